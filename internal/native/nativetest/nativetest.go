// Package nativetest provides an in-memory native.Library for tests.
//
// Status changes, frames and log lines are emitted from the caller's
// goroutine, which stands in for a native-owned thread.
package nativetest

import (
	"errors"
	"sync"

	"github.com/rickgao/camera-gateway/internal/native"
)

// Call records one invocation of the library.
type Call struct {
	Op      string
	Handle  native.Handle
	Channel int
}

type instance struct {
	info   native.CameraInfo
	status native.StatusCallback
	raw    map[int]native.RawDataCallback
	code   int
	freed  bool
}

// Library is a fake native.Library. The zero value is not usable; use New.
type Library struct {
	mu sync.Mutex

	instances map[native.Handle]*instance
	nextID    native.Handle
	calls     []Call
	configs   map[native.Handle][]native.StartConfig

	logHandler native.LogHandler
	token      string
	inited     bool

	// Hooks and canned results.
	startErrs []error
	startHook func(h native.Handle, cfg native.StartConfig) error
	stopErr   error
	newErr    error
	version   string
}

// New creates a fake library.
func New() *Library {
	return &Library{
		instances: make(map[native.Handle]*instance),
		configs:   make(map[native.Handle][]native.StartConfig),
		version:   "nativetest-1.0.0",
	}
}

func (l *Library) record(op string, h native.Handle, channel int) {
	l.calls = append(l.calls, Call{Op: op, Handle: h, Channel: channel})
}

// Init implements native.Library.
func (l *Library) Init(host, clientID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("init", 0, -1)
	l.inited = true
	l.token = token
	return nil
}

// Deinit implements native.Library.
func (l *Library) Deinit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("deinit", 0, -1)
	l.inited = false
}

// UpdateToken implements native.Library.
func (l *Library) UpdateToken(token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("update_token", 0, -1)
	l.token = token
	return nil
}

// New implements native.Library.
func (l *Library) New(info native.CameraInfo) (native.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("new", 0, -1)
	if l.newErr != nil {
		return 0, l.newErr
	}
	l.nextID++
	l.instances[l.nextID] = &instance{
		info: info,
		raw:  make(map[int]native.RawDataCallback),
		code: native.StatusDisconnected,
	}
	return l.nextID, nil
}

// Free implements native.Library.
func (l *Library) Free(h native.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("free", h, -1)
	if inst, ok := l.instances[h]; ok {
		inst.freed = true
	}
}

// Start implements native.Library.
func (l *Library) Start(h native.Handle, cfg native.StartConfig) error {
	l.mu.Lock()
	l.record("start", h, -1)
	l.configs[h] = append(l.configs[h], cfg)
	hook := l.startHook
	var err error
	if len(l.startErrs) > 0 {
		err = l.startErrs[0]
		l.startErrs = l.startErrs[1:]
	}
	l.mu.Unlock()

	if hook != nil {
		return hook(h, cfg)
	}
	return err
}

// Stop implements native.Library.
func (l *Library) Stop(h native.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("stop", h, -1)
	return l.stopErr
}

// Status implements native.Library.
func (l *Library) Status(h native.Handle) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("status", h, -1)
	inst, ok := l.instances[h]
	if !ok {
		return 0, &native.Error{Op: "status", Code: -1}
	}
	return inst.code, nil
}

// Version implements native.Library.
func (l *Library) Version() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("version", 0, -1)
	return l.version, nil
}

// RegisterStatusChanged implements native.Library.
func (l *Library) RegisterStatusChanged(h native.Handle, cb native.StatusCallback) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("register_status", h, -1)
	inst, ok := l.instances[h]
	if !ok {
		return &native.Error{Op: "register_status", Code: -1}
	}
	inst.status = cb
	return nil
}

// UnregisterStatusChanged implements native.Library.
func (l *Library) UnregisterStatusChanged(h native.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("unregister_status", h, -1)
	if inst, ok := l.instances[h]; ok {
		inst.status = nil
	}
	return nil
}

// RegisterRawData implements native.Library.
func (l *Library) RegisterRawData(h native.Handle, channel int, cb native.RawDataCallback) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("register_raw", h, channel)
	inst, ok := l.instances[h]
	if !ok {
		return &native.Error{Op: "register_raw", Code: -1}
	}
	inst.raw[channel] = cb
	return nil
}

// UnregisterRawData implements native.Library.
func (l *Library) UnregisterRawData(h native.Handle, channel int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("unregister_raw", h, channel)
	if inst, ok := l.instances[h]; ok {
		delete(inst.raw, channel)
	}
	return nil
}

// SetLogHandler implements native.Library.
func (l *Library) SetLogHandler(fn native.LogHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logHandler = fn
}

// FailStarts makes the next len(errs) Start calls return errs in order.
func (l *Library) FailStarts(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startErrs = append(l.startErrs, errs...)
}

// SetStartHook overrides Start. The hook runs outside the library lock.
func (l *Library) SetStartHook(fn func(h native.Handle, cfg native.StartConfig) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startHook = fn
}

// SetNewError makes New fail.
func (l *Library) SetNewError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.newErr = err
}

// SetStopError makes Stop fail.
func (l *Library) SetStopError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopErr = err
}

// SetVersion sets the value returned by Version.
func (l *Library) SetVersion(v string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.version = v
}

// EmitStatus invokes the status callback of h from the calling goroutine.
func (l *Library) EmitStatus(h native.Handle, code int) error {
	l.mu.Lock()
	inst, ok := l.instances[h]
	var cb native.StatusCallback
	if ok {
		inst.code = code
		cb = inst.status
	}
	l.mu.Unlock()

	if cb == nil {
		return errors.New("no status callback registered")
	}
	cb(code)
	return nil
}

// EmitFrame invokes the raw-data callback of h for the header's channel.
// Returns false if no callback is registered for that channel.
func (l *Library) EmitFrame(h native.Handle, hdr native.FrameHeader, payload []byte) bool {
	l.mu.Lock()
	var cb native.RawDataCallback
	if inst, ok := l.instances[h]; ok {
		cb = inst.raw[int(hdr.Channel)]
	}
	l.mu.Unlock()

	if cb == nil {
		return false
	}
	if hdr.Length == 0 {
		hdr.Length = uint32(len(payload))
	}
	cb(hdr, payload)
	return true
}

// EmitLog invokes the installed log handler.
func (l *Library) EmitLog(level int, msg string) {
	l.mu.Lock()
	fn := l.logHandler
	l.mu.Unlock()
	if fn != nil {
		fn(level, msg)
	}
}

// Calls returns a copy of the call log.
func (l *Library) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Call, len(l.calls))
	copy(out, l.calls)
	return out
}

// Count returns how many times op was called on h (h = 0 matches any handle;
// channel < 0 matches any channel).
func (l *Library) Count(op string, h native.Handle, channel int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.Op != op {
			continue
		}
		if h != 0 && c.Handle != h {
			continue
		}
		if channel >= 0 && c.Channel != channel {
			continue
		}
		n++
	}
	return n
}

// StartConfigs returns every config passed to Start for h.
func (l *Library) StartConfigs(h native.Handle) []native.StartConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]native.StartConfig, len(l.configs[h]))
	copy(out, l.configs[h])
	return out
}

// RawRegistered reports whether a raw-data callback is installed.
func (l *Library) RawRegistered(h native.Handle, channel int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.instances[h]
	if !ok {
		return false
	}
	_, ok = inst.raw[channel]
	return ok
}

// Freed reports whether Free was called for h.
func (l *Library) Freed(h native.Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.instances[h]
	return ok && inst.freed
}

// Token returns the last token passed to Init or UpdateToken.
func (l *Library) Token() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token
}

var _ native.Library = (*Library)(nil)

package wsbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/camera-gateway/internal/backoff"
	"github.com/rickgao/camera-gateway/internal/native"
)

type rawKey struct {
	handle  native.Handle
	channel int
}

type reply struct {
	resp Response
	err  error
}

// Bridge implements native.Library over a sidecar WebSocket connection.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.RWMutex
	client *client

	// Command correlation
	pendingMu sync.Mutex
	pending   map[int64]chan reply
	cmdID     atomic.Int64

	// Registered callbacks, replayed to the sidecar after a reconnect.
	cbMu       sync.RWMutex
	status     map[native.Handle]native.StatusCallback
	raw        map[rawKey]native.RawDataCallback
	logHandler native.LogHandler

	// Metrics
	reconnects     atomic.Int64
	commandsSent   atomic.Int64
	commandErrors  atomic.Int64
	eventsReceived atomic.Int64
	framesReceived atomic.Int64
	framesDropped  atomic.Int64
	overflowed     atomic.Int64
}

// New creates a bridge. Call Connect before using it as a native.Library.
func New(cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[int64]chan reply),
		status:  make(map[native.Handle]native.StatusCallback),
		raw:     make(map[rawKey]native.RawDataCallback),
	}
}

// Connect dials the sidecar and starts dispatching its messages.
func (b *Bridge) Connect(ctx context.Context) error {
	c := newClient(b.cfg, b.logger, b.onOverflow)
	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("connect sidecar %s: %w", b.cfg.URL, err)
	}

	b.connMu.Lock()
	b.client = c
	b.connMu.Unlock()

	b.wg.Add(1)
	go b.dispatchLoop(c)

	b.logger.Info("bridge connected", "url", b.cfg.URL)
	return nil
}

// Close disconnects from the sidecar. Pending commands fail.
func (b *Bridge) Close() error {
	b.cancel()

	b.connMu.Lock()
	c := b.client
	b.client = nil
	b.connMu.Unlock()

	var err error
	if c != nil {
		err = c.close()
	}
	b.wg.Wait()
	b.failPending(ErrAlreadyClosed)
	return err
}

// IsConnected reports whether the bridge currently has a live connection.
func (b *Bridge) IsConnected() bool {
	c := b.current()
	return c != nil && c.isConnected()
}

// Stats returns runtime statistics.
func (b *Bridge) Stats() Stats {
	b.pendingMu.Lock()
	pending := len(b.pending)
	b.pendingMu.Unlock()

	return Stats{
		Connected:       b.IsConnected(),
		Reconnects:      b.reconnects.Load(),
		PendingCommands: pending,
		CommandsSent:    b.commandsSent.Load(),
		CommandErrors:   b.commandErrors.Load(),
		EventsReceived:  b.eventsReceived.Load(),
		FramesReceived:  b.framesReceived.Load(),
		FramesDropped:   b.framesDropped.Load(),
		FramesOverflow:  b.overflowed.Load(),
	}
}

func (b *Bridge) onOverflow() {
	b.overflowed.Add(1)
}

func (b *Bridge) current() *client {
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	return b.client
}

// dispatchLoop routes messages of c until it fails or the bridge closes.
func (b *Bridge) dispatchLoop(c *client) {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return

		case err := <-c.errors:
			b.logger.Warn("sidecar connection error", "error", err)
			c.close()
			b.failPending(fmt.Errorf("%w: %w", ErrNotConnected, err))
			b.notifyDisconnected()
			b.wg.Add(1)
			go b.reconnect()
			return

		case msg := <-c.messages:
			b.handleMessage(msg)
		}
	}
}

func (b *Bridge) handleMessage(msg Message) {
	if msg.Type == websocket.BinaryMessage {
		b.handleFrame(msg.Data)
		return
	}

	if resp, ok := parseResponse(msg.Data); ok {
		b.routeResponse(resp)
		return
	}

	var ev Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		b.logger.Warn("malformed sidecar message", "error", err)
		return
	}
	b.eventsReceived.Add(1)

	switch ev.Type {
	case "status":
		b.cbMu.RLock()
		cb := b.status[native.Handle(ev.Handle)]
		b.cbMu.RUnlock()
		if cb != nil {
			cb(ev.Status)
		}
	case "log":
		b.cbMu.RLock()
		fn := b.logHandler
		b.cbMu.RUnlock()
		if fn != nil {
			fn(ev.Level, ev.Msg)
		}
	default:
		b.logger.Debug("unknown sidecar event", "type", ev.Type)
	}
}

func (b *Bridge) handleFrame(data []byte) {
	h, hdr, payload, err := ParseFrame(data)
	if err != nil {
		b.logger.Warn("malformed frame", "size", len(data), "error", err)
		return
	}
	b.framesReceived.Add(1)

	b.cbMu.RLock()
	cb := b.raw[rawKey{handle: h, channel: int(hdr.Channel)}]
	b.cbMu.RUnlock()
	if cb == nil {
		b.framesDropped.Add(1)
		return
	}
	cb(hdr, payload)
}

// parseResponse attempts to parse a message as a command response.
func parseResponse(data []byte) (Response, bool) {
	if !bytes.Contains(data, []byte(`"id":`)) {
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false
	}
	switch resp.Type {
	case "ok", "error":
		return resp, true
	}
	return Response{}, false
}

// routeResponse sends a response to the waiting command.
func (b *Bridge) routeResponse(resp Response) {
	b.pendingMu.Lock()
	ch, ok := b.pending[resp.ID]
	if ok {
		delete(b.pending, resp.ID)
	}
	b.pendingMu.Unlock()

	if ok {
		select {
		case ch <- reply{resp: resp}:
		default:
		}
	}
}

func (b *Bridge) failPending(err error) {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = make(map[int64]chan reply)
	b.pendingMu.Unlock()

	for _, ch := range pending {
		select {
		case ch <- reply{err: err}:
		default:
		}
	}
}

// notifyDisconnected tells every status callback that its instance is
// unreachable, so sessions fall back to their own reconnect handling.
func (b *Bridge) notifyDisconnected() {
	b.cbMu.RLock()
	cbs := make([]native.StatusCallback, 0, len(b.status))
	for _, cb := range b.status {
		cbs = append(cbs, cb)
	}
	b.cbMu.RUnlock()

	for _, cb := range cbs {
		cb(native.StatusDisconnected)
	}
}

// reconnect redials the sidecar with exponential backoff and replays the
// callback registrations.
func (b *Bridge) reconnect() {
	defer b.wg.Done()

	bo := backoff.New(backoff.Policy{Floor: b.cfg.ReconnectBaseWait, Ceiling: b.cfg.ReconnectMaxWait})
	wait := bo.Current()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-time.After(wait):
		}

		b.logger.Info("attempting sidecar reconnection", "url", b.cfg.URL)
		c := newClient(b.cfg, b.logger, b.onOverflow)
		if err := c.connect(b.ctx); err != nil {
			wait = bo.Next()
			b.logger.Warn("sidecar reconnection failed", "error", err, "retry_in", wait)
			continue
		}

		b.connMu.Lock()
		if b.ctx.Err() != nil {
			b.connMu.Unlock()
			c.close()
			return
		}
		b.client = c
		b.connMu.Unlock()
		b.reconnects.Add(1)

		b.wg.Add(1)
		go b.dispatchLoop(c)

		b.resubscribe()
		b.logger.Info("sidecar reconnected")
		return
	}
}

func (b *Bridge) resubscribe() {
	b.cbMu.RLock()
	handles := make([]native.Handle, 0, len(b.status))
	for h := range b.status {
		handles = append(handles, h)
	}
	keys := make([]rawKey, 0, len(b.raw))
	for k := range b.raw {
		keys = append(keys, k)
	}
	logging := b.logHandler != nil
	b.cbMu.RUnlock()

	if logging {
		if err := b.command(CmdSetLogHandler, logParams{Enabled: true}, nil); err != nil {
			b.logger.Warn("failed to restore log handler", "error", err)
		}
	}
	for _, h := range handles {
		if err := b.command(CmdRegisterStatus, handleParams{Handle: uint32(h)}, nil); err != nil {
			b.logger.Warn("failed to restore status callback", "handle", h, "error", err)
		}
	}
	for _, k := range keys {
		if err := b.command(CmdRegisterRaw, channelParams{Handle: uint32(k.handle), Channel: k.channel}, nil); err != nil {
			b.logger.Warn("failed to restore raw data callback", "handle", k.handle, "channel", k.channel, "error", err)
		}
	}
}

// command sends cmd and waits for its response. Error responses surface as
// *native.Error.
func (b *Bridge) command(cmd string, params, result any) error {
	c := b.current()
	if c == nil || !c.isConnected() {
		return fmt.Errorf("%s: %w", cmd, ErrNotConnected)
	}

	id := b.cmdID.Add(1)
	respCh := make(chan reply, 1)

	b.pendingMu.Lock()
	b.pending[id] = respCh
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
	}()

	data, err := json.Marshal(Command{ID: id, Cmd: cmd, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd, err)
	}
	if err := c.send(data); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	b.commandsSent.Add(1)

	timer := time.NewTimer(b.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case <-b.ctx.Done():
		return fmt.Errorf("%s: %w", cmd, ErrAlreadyClosed)
	case <-timer.C:
		b.commandErrors.Add(1)
		return fmt.Errorf("%s: %w", cmd, ErrTimeout)
	case r := <-respCh:
		if r.err != nil {
			b.commandErrors.Add(1)
			return fmt.Errorf("%s: %w", cmd, r.err)
		}
		if r.resp.Type == "error" {
			b.commandErrors.Add(1)
			b.logger.Debug("sidecar command failed",
				"cmd", cmd,
				"code", r.resp.Code,
				"message", r.resp.Message,
			)
			return &native.Error{Op: cmd, Code: r.resp.Code}
		}
		if result != nil && len(r.resp.Result) > 0 {
			if err := json.Unmarshal(r.resp.Result, result); err != nil {
				return fmt.Errorf("decode %s result: %w", cmd, err)
			}
		}
		return nil
	}
}

// Init implements native.Library.
func (b *Bridge) Init(host, clientID, token string) error {
	return b.command(CmdInit, initParams{Host: host, ClientID: clientID, Token: token}, nil)
}

// Deinit implements native.Library.
func (b *Bridge) Deinit() {
	if err := b.command(CmdDeinit, nil, nil); err != nil {
		b.logger.Warn("sidecar deinit failed", "error", err)
	}
}

// UpdateToken implements native.Library.
func (b *Bridge) UpdateToken(token string) error {
	return b.command(CmdUpdateToken, tokenParams{Token: token}, nil)
}

// New implements native.Library.
func (b *Bridge) New(info native.CameraInfo) (native.Handle, error) {
	var res handleResult
	if err := b.command(CmdNew, info, &res); err != nil {
		return 0, err
	}
	if res.Handle == 0 {
		return 0, native.ErrNullHandle
	}
	return native.Handle(res.Handle), nil
}

// Free implements native.Library. Callbacks of h are dropped.
func (b *Bridge) Free(h native.Handle) {
	b.cbMu.Lock()
	delete(b.status, h)
	for k := range b.raw {
		if k.handle == h {
			delete(b.raw, k)
		}
	}
	b.cbMu.Unlock()

	if err := b.command(CmdFree, handleParams{Handle: uint32(h)}, nil); err != nil {
		b.logger.Warn("sidecar free failed", "handle", h, "error", err)
	}
}

// Start implements native.Library.
func (b *Bridge) Start(h native.Handle, cfg native.StartConfig) error {
	qualities := make([]int, len(cfg.Qualities))
	for i, q := range cfg.Qualities {
		qualities[i] = int(q)
	}
	return b.command(CmdStart, startParams{
		Handle: uint32(h),
		Config: startConfig{
			Qualities:   qualities,
			EnableAudio: cfg.EnableAudio,
			PinCode:     cfg.PinCode,
		},
	}, nil)
}

// Stop implements native.Library.
func (b *Bridge) Stop(h native.Handle) error {
	return b.command(CmdStop, handleParams{Handle: uint32(h)}, nil)
}

// Status implements native.Library.
func (b *Bridge) Status(h native.Handle) (int, error) {
	var res statusResult
	if err := b.command(CmdStatus, handleParams{Handle: uint32(h)}, &res); err != nil {
		return 0, err
	}
	return res.Status, nil
}

// Version implements native.Library.
func (b *Bridge) Version() (string, error) {
	var res versionResult
	if err := b.command(CmdVersion, nil, &res); err != nil {
		return "", err
	}
	return res.Version, nil
}

// RegisterStatusChanged implements native.Library.
func (b *Bridge) RegisterStatusChanged(h native.Handle, cb native.StatusCallback) error {
	b.cbMu.Lock()
	b.status[h] = cb
	b.cbMu.Unlock()

	if err := b.command(CmdRegisterStatus, handleParams{Handle: uint32(h)}, nil); err != nil {
		b.cbMu.Lock()
		delete(b.status, h)
		b.cbMu.Unlock()
		return err
	}
	return nil
}

// UnregisterStatusChanged implements native.Library.
func (b *Bridge) UnregisterStatusChanged(h native.Handle) error {
	b.cbMu.Lock()
	delete(b.status, h)
	b.cbMu.Unlock()
	return b.command(CmdUnregisterStatus, handleParams{Handle: uint32(h)}, nil)
}

// RegisterRawData implements native.Library.
func (b *Bridge) RegisterRawData(h native.Handle, channel int, cb native.RawDataCallback) error {
	key := rawKey{handle: h, channel: channel}
	b.cbMu.Lock()
	b.raw[key] = cb
	b.cbMu.Unlock()

	if err := b.command(CmdRegisterRaw, channelParams{Handle: uint32(h), Channel: channel}, nil); err != nil {
		b.cbMu.Lock()
		delete(b.raw, key)
		b.cbMu.Unlock()
		return err
	}
	return nil
}

// UnregisterRawData implements native.Library.
func (b *Bridge) UnregisterRawData(h native.Handle, channel int) error {
	b.cbMu.Lock()
	delete(b.raw, rawKey{handle: h, channel: channel})
	b.cbMu.Unlock()
	return b.command(CmdUnregisterRaw, channelParams{Handle: uint32(h), Channel: channel}, nil)
}

// SetLogHandler implements native.Library. The sidecar only forwards log
// lines while a handler is installed.
func (b *Bridge) SetLogHandler(fn native.LogHandler) {
	b.cbMu.Lock()
	b.logHandler = fn
	b.cbMu.Unlock()

	if err := b.command(CmdSetLogHandler, logParams{Enabled: fn != nil}, nil); err != nil {
		b.logger.Debug("failed to toggle sidecar logging", "error", err)
	}
}

var _ native.Library = (*Bridge)(nil)

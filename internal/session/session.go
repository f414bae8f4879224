package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rickgao/camera-gateway/internal/backoff"
	"github.com/rickgao/camera-gateway/internal/callback"
	"github.com/rickgao/camera-gateway/internal/decode"
	"github.com/rickgao/camera-gateway/internal/media"
	"github.com/rickgao/camera-gateway/internal/native"
)

// Session is the connection lifecycle of one camera device.
type Session struct {
	desc     Descriptor
	lib      native.Library
	handle   native.Handle
	cfg      Config
	decoder  decode.Factory
	recorder Recorder
	after    afterFunc
	logger   *slog.Logger

	loop *loop
	opMu sync.Mutex // Serializes Start, Stop and Destroy
	// Guarded by opMu
	closed bool

	// Published by the loop, read from anywhere.
	stateMu sync.RWMutex
	status  Status

	// Loop-owned state.
	subs             *callback.Registry[subKey, *subscriber]
	rawRefs          []int
	backoff          *backoff.Backoff
	opts             StartOptions
	qualities        []uint8
	reconnect        bool
	running          bool
	statusRegistered bool
	pipeline         *decode.Pipeline
	timer            stopper
	timerGen         uint64
	runGen           uint64
	runLogger        *slog.Logger
	inFlight         bool
	pendingAttempt   bool
	firstAttempt     chan error

	// Metrics (atomic)
	connectAttempts atomic.Int64
	connectFailures atomic.Int64
	unknownCodecs   atomic.Int64
	droppedDeliver  atomic.Int64
}

type sessionDeps struct {
	decoder  decode.Factory
	recorder Recorder
	after    afterFunc
}

func newSession(desc Descriptor, lib native.Library, handle native.Handle, cfg Config, deps sessionDeps, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.after == nil {
		deps.after = realAfterFunc
	}
	logger = logger.With("device_id", desc.DeviceID)
	return &Session{
		desc:      desc,
		lib:       lib,
		handle:    handle,
		cfg:       cfg,
		decoder:   deps.decoder,
		recorder:  deps.recorder,
		after:     deps.after,
		logger:    logger,
		runLogger: logger,
		loop:      newLoop(cfg.MailboxSize),
		status:    StatusIdle,
		subs:      callback.NewRegistry[subKey, *subscriber](),
		rawRefs:   make([]int, desc.ChannelCount),
		backoff:   backoff.New(cfg.Backoff),
	}
}

// DeviceID returns the device id of the session.
func (s *Session) DeviceID() string {
	return s.desc.DeviceID
}

// Descriptor returns the immutable camera descriptor.
func (s *Session) Descriptor() Descriptor {
	return s.desc
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.status
}

// Online reports whether the session is connected.
func (s *Session) Online() bool {
	return s.Status() == StatusConnected
}

// Info returns a snapshot of the descriptor and its derived state.
func (s *Session) Info() Info {
	status := s.Status()
	return Info{
		Descriptor: s.desc,
		Status:     status,
		Online:     status == StatusConnected,
	}
}

// setStatus must be called on the loop.
func (s *Session) setStatus(status Status) {
	s.stateMu.Lock()
	s.status = status
	s.stateMu.Unlock()
}

// Start connects the session and waits for the outcome of the first connect
// attempt. With reconnect enabled a failed first attempt schedules a retry
// and Start returns nil. If ctx ends first, Start returns ctx.Err() and the
// session keeps connecting in the background.
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	qualities, err := nativeQualities(opts, s.desc.ChannelCount)
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	var startErr error
	err = s.loop.call(func() {
		if s.running {
			startErr = ErrAlreadyStarted
			return
		}
		if !s.statusRegistered {
			if err := s.lib.RegisterStatusChanged(s.handle, s.onStatusChanged); err != nil {
				startErr = fmt.Errorf("register status callback: %w", err)
				return
			}
			s.statusRegistered = true
		}

		s.opts = opts
		s.qualities = qualities
		s.reconnect = opts.EnableReconnect
		s.running = true
		s.runGen++
		s.runLogger = s.logger.With("run_id", uuid.NewString())
		s.backoff.Reset()

		decCfg := s.cfg.Decode
		decCfg.EnableAudio = opts.EnableAudio
		s.pipeline = decode.NewPipeline(decCfg, s.desc.ChannelCount, s.decoder, decode.Sink{
			OnImage: s.onDecodedImage,
			OnAudio: s.onDecodedAudio,
		}, s.runLogger)

		s.setStatus(StatusConnecting)
		s.firstAttempt = result
		s.runLogger.Info("starting session",
			"channels", s.desc.ChannelCount,
			"audio", opts.EnableAudio,
			"reconnect", opts.EnableReconnect,
			"record", opts.EnableRecord)
		s.schedule(0)
	})
	if err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nativeQualities validates opts and builds the per-channel quality list
// terminated by a 0 sentinel.
func nativeQualities(opts StartOptions, channels int) ([]uint8, error) {
	if opts.PinCode != "" && utf8.RuneCountInString(opts.PinCode) != PinCodeLength {
		return nil, fmt.Errorf("%w: pin code must be %d characters", ErrInvalidParameter, PinCodeLength)
	}
	for i, q := range opts.Qualities {
		if !q.Valid() {
			return nil, fmt.Errorf("%w: qualities[%d]: unknown quality %d", ErrInvalidParameter, i, q)
		}
	}

	out := make([]uint8, 0, channels+1)
	switch len(opts.Qualities) {
	case 0:
		for i := 0; i < channels; i++ {
			out = append(out, uint8(media.QualityLow))
		}
	case 1:
		for i := 0; i < channels; i++ {
			out = append(out, uint8(opts.Qualities[0]))
		}
	case channels:
		for _, q := range opts.Qualities {
			out = append(out, uint8(q))
		}
	default:
		return nil, fmt.Errorf("%w: %d qualities for %d channels", ErrInvalidParameter, len(opts.Qualities), channels)
	}
	return append(out, 0), nil
}

// schedule arms the reconnect timer. Must be called on the loop.
func (s *Session) schedule(delay time.Duration) {
	s.cancelTimer()
	gen := s.timerGen
	s.timer = s.after(delay, func() {
		s.loop.post(func() {
			if gen != s.timerGen {
				return // Cancelled or superseded
			}
			s.timer = nil
			s.connectAttempt()
		})
	})
	if delay > 0 {
		s.runLogger.Info("reconnect scheduled", "delay", delay)
	}
}

// cancelTimer disarms the reconnect timer. A fire already posted to the
// loop is discarded by the generation check. Must be called on the loop.
func (s *Session) cancelTimer() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// connectAttempt issues a native start. Must be called on the loop.
func (s *Session) connectAttempt() {
	s.cancelTimer()
	if !s.running {
		return
	}
	if s.inFlight {
		s.pendingAttempt = true
		s.runLogger.Debug("connect attempt already in flight")
		return
	}
	s.inFlight = true
	s.pendingAttempt = false

	run := s.runGen
	cfg := native.StartConfig{
		Qualities:   s.qualities,
		EnableAudio: s.opts.EnableAudio,
		PinCode:     s.opts.PinCode,
	}
	attempt := s.connectAttempts.Add(1)
	s.runLogger.Info("connecting", "attempt", attempt)

	go func() {
		err := s.lib.Start(s.handle, cfg)
		s.loop.post(func() { s.onConnectResult(run, err) })
	}()
}

// onConnectResult runs on the loop.
func (s *Session) onConnectResult(run uint64, err error) {
	s.inFlight = false
	if run != s.runGen || !s.running {
		s.logger.Debug("discarding stale connect result", "error", err)
		if s.pendingAttempt && s.running {
			s.connectAttempt()
		}
		return
	}
	s.pendingAttempt = false

	if err == nil {
		s.backoff.Reset()
		s.runLogger.Info("connected")
		s.resolveFirstAttempt(nil)
		return
	}

	s.connectFailures.Add(1)
	if s.reconnect {
		delay := s.backoff.Next()
		s.runLogger.Warn("connect failed, will retry", "delay", delay, "error", err)
		s.schedule(delay)
		s.resolveFirstAttempt(nil)
		return
	}

	s.runLogger.Error("connect failed", "error", err)
	s.running = false
	s.closePipelineAsync()
	s.setStatus(StatusDisconnected)
	s.publishStatus(StatusDisconnected)
	s.resolveFirstAttempt(fmt.Errorf("%w: %s: %w", ErrConnectFailed, s.desc.DeviceID, err))
}

func (s *Session) resolveFirstAttempt(err error) {
	if s.firstAttempt == nil {
		return
	}
	s.firstAttempt <- err
	s.firstAttempt = nil
}

// closePipelineAsync stops the decode workers without blocking the loop.
func (s *Session) closePipelineAsync() {
	p := s.pipeline
	s.pipeline = nil
	if p != nil {
		go p.Close()
	}
}

// Stop disconnects the session. Frame subscribers are dropped and every
// native raw-data subscription is deactivated; status subscribers survive.
// Stopping a session that is idle or already stopped is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return nil
	}
	return s.stop(ctx)
}

func (s *Session) stop(ctx context.Context) error {
	var (
		active   bool
		pipeline *decode.Pipeline
	)
	err := s.loop.call(func() {
		s.reconnect = false
		s.cancelTimer()
		s.backoff.Reset()
		s.pendingAttempt = false

		status := s.Status()
		if status == StatusIdle || status == StatusStopped {
			return
		}
		active = true
		s.running = false
		s.runGen++
		s.firstAttempt = nil
		pipeline = s.pipeline
		s.pipeline = nil
		s.releaseFrameSubscribers()
		s.setStatus(StatusStopped)
		s.publishStatus(StatusStopped)
	})
	if err != nil || !active {
		return nil
	}

	if _, err := offload(ctx, func() (struct{}, error) {
		return struct{}{}, s.lib.Stop(s.handle)
	}); err != nil {
		s.logger.Warn("native stop failed", "error", err)
	}
	if pipeline != nil {
		pipeline.Close()
	}
	s.logger.Info("session stopped")
	return nil
}

// releaseFrameSubscribers drops every frame subscriber and deactivates the
// native raw-data subscription of each active channel. Must be called on
// the loop.
func (s *Session) releaseFrameSubscribers() {
	for ch := range s.rawRefs {
		for _, cat := range frameCategories {
			for _, sub := range s.subs.RemoveAll(subKey{category: cat, channel: ch}) {
				sub.close()
			}
		}
		if s.rawRefs[ch] > 0 {
			s.deactivateRaw(ch)
		}
		s.rawRefs[ch] = 0
	}
}

func (s *Session) activateRaw(channel int) error {
	if err := s.lib.RegisterRawData(s.handle, channel, s.onRawFrame); err != nil {
		return fmt.Errorf("register raw data on channel %d: %w", channel, err)
	}
	s.logger.Info("raw data activated", "channel", channel)
	return nil
}

func (s *Session) deactivateRaw(channel int) {
	if err := s.lib.UnregisterRawData(s.handle, channel); err != nil {
		s.logger.Warn("unregister raw data failed", "channel", channel, "error", err)
		return
	}
	s.logger.Info("raw data deactivated", "channel", channel)
}

// destroy stops the session and releases its native resources.
func (s *Session) destroy(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.stop(ctx)
	_ = s.loop.call(func() {
		s.releaseFrameSubscribers()
		for _, sub := range s.subs.RemoveAll(statusKey) {
			sub.close()
		}
		if s.statusRegistered {
			if err := s.lib.UnregisterStatusChanged(s.handle); err != nil {
				s.logger.Warn("unregister status callback failed", "error", err)
			}
			s.statusRegistered = false
		}
		s.closePipelineAsync()
	})
	s.loop.close()
	s.lib.Free(s.handle)
	s.logger.Info("session destroyed")
	return nil
}

// QueryStatus asks the native layer for the instance status.
func (s *Session) QueryStatus(ctx context.Context) (Status, error) {
	code, err := offload(ctx, func() (int, error) {
		return s.lib.Status(s.handle)
	})
	if err != nil {
		return 0, fmt.Errorf("query status of %s: %w", s.desc.DeviceID, err)
	}
	status, ok := statusFromNative(code)
	if !ok {
		return 0, fmt.Errorf("query status of %s: unknown native status %d", s.desc.DeviceID, code)
	}
	return status, nil
}

// onStatusChanged is invoked on a native thread.
func (s *Session) onStatusChanged(code int) {
	status, ok := statusFromNative(code)
	if !ok {
		s.logger.Warn("unknown native status", "code", code)
		return
	}
	if !s.loop.post(func() { s.handleStatus(status) }) {
		s.logger.Debug("status change after close", "status", status)
	}
}

func (s *Session) handleStatus(status Status) {
	if !s.running {
		s.logger.Debug("status change ignored, session not running", "status", status)
		return
	}
	prev := s.Status()
	s.setStatus(status)
	s.runLogger.Info("status changed", "from", prev, "to", status)
	s.publishStatus(status)

	if status == StatusDisconnected && s.reconnect {
		s.schedule(s.backoff.Next())
	}
}

// publishStatus records status and hands it to every status subscriber.
// Must be called on the loop.
func (s *Session) publishStatus(status Status) {
	if s.opts.EnableRecord && s.recorder != nil {
		s.recorder.RecordStatus(s.desc.DeviceID, status.String(), time.Now())
	}
	for _, sub := range s.subs.Snapshot(statusKey) {
		handler := sub.onStatus
		sub.deliver(func() { handler(s.desc.DeviceID, status) })
	}
}

// Reconcile applies a status observed by querying the native layer. It
// recovers from status events lost between the native layer and the
// session: an observed Disconnected schedules a reconnect like the event
// would have. Reconcile is a no-op when the session is not running or the
// cached status already matches.
func (s *Session) Reconcile(observed Status) error {
	return s.loop.call(func() {
		if !s.running || s.Status() == observed {
			return
		}
		s.runLogger.Warn("reconciling status", "cached", s.Status(), "native", observed)
		s.handleStatus(observed)
	})
}

// onRawFrame is invoked on a native thread. The payload is copied before the
// callback returns.
func (s *Session) onRawFrame(hdr native.FrameHeader, payload []byte) {
	codec := media.Codec(hdr.Codec)
	if media.Classify(codec) == media.KindUnknown {
		s.unknownCodecs.Add(1)
		s.logger.Error("unknown codec, frame dropped",
			"codec", hdr.Codec,
			"channel", hdr.Channel,
			"timestamp", hdr.Timestamp)
		return
	}
	if n := int(hdr.Length); n < len(payload) {
		payload = payload[:n]
	}
	f := media.NewFrame(codec, int(hdr.Channel), hdr.Timestamp, hdr.Sequence, media.FrameType(hdr.FrameType), payload)
	s.loop.post(func() { s.handleFrame(f) })
}

func (s *Session) handleFrame(f media.Frame) {
	if f.Channel < 0 || f.Channel >= s.desc.ChannelCount {
		s.logger.Warn("frame for unknown channel dropped", "channel", f.Channel)
		return
	}

	rawCat, decCat := CategoryRawVideo, CategoryDecodedImage
	if f.Kind() == media.KindAudio {
		rawCat, decCat = CategoryRawAudio, CategoryDecodedAudio
	}

	if s.pipeline != nil && s.subs.Len(subKey{category: decCat, channel: f.Channel}) > 0 {
		s.pipeline.Push(f)
	}
	for _, sub := range s.subs.Snapshot(subKey{category: rawCat, channel: f.Channel}) {
		handler := sub.onRaw
		sub.deliver(func() { handler(s.desc.DeviceID, f) })
	}
	if s.opts.EnableRecord && s.recorder != nil && s.running {
		s.recorder.RecordFrame(s.desc.DeviceID, f, time.Now())
	}
}

// onDecodedImage is invoked on a decode worker.
func (s *Session) onDecodedImage(channel int, ts uint64, data []byte) {
	s.postDecoded(CategoryDecodedImage, media.Decoded{Kind: media.KindVideo, Channel: channel, Timestamp: ts, Data: data})
}

// onDecodedAudio is invoked on a decode worker.
func (s *Session) onDecodedAudio(channel int, ts uint64, data []byte) {
	s.postDecoded(CategoryDecodedAudio, media.Decoded{Kind: media.KindAudio, Channel: channel, Timestamp: ts, Data: data})
}

func (s *Session) postDecoded(cat Category, out media.Decoded) {
	s.loop.post(func() {
		for _, sub := range s.subs.Snapshot(subKey{category: cat, channel: out.Channel}) {
			handler := sub.onDecoded
			sub.deliver(func() { handler(s.desc.DeviceID, out) })
		}
	})
}

// RegisterStatus subscribes h to status changes.
func (s *Session) RegisterStatus(h StatusHandler, multi bool) (int, error) {
	if h == nil {
		return 0, fmt.Errorf("%w: nil handler", ErrInvalidParameter)
	}
	return s.register(statusKey, multi, func(sub *subscriber) { sub.onStatus = h })
}

// UnregisterStatus removes a status subscription. Unknown ids are ignored.
func (s *Session) UnregisterStatus(id int) error {
	return s.unregister(statusKey, id)
}

// RegisterRawVideo subscribes h to encoded video frames of a channel.
func (s *Session) RegisterRawVideo(channel int, h RawHandler, multi bool) (int, error) {
	return s.registerRaw(CategoryRawVideo, channel, h, multi)
}

// RegisterRawAudio subscribes h to encoded audio frames of a channel.
func (s *Session) RegisterRawAudio(channel int, h RawHandler, multi bool) (int, error) {
	return s.registerRaw(CategoryRawAudio, channel, h, multi)
}

// RegisterDecodedImage subscribes h to decoded images of a channel.
func (s *Session) RegisterDecodedImage(channel int, h DecodedHandler, multi bool) (int, error) {
	return s.registerDecoded(CategoryDecodedImage, channel, h, multi)
}

// RegisterDecodedAudio subscribes h to decoded audio of a channel.
func (s *Session) RegisterDecodedAudio(channel int, h DecodedHandler, multi bool) (int, error) {
	return s.registerDecoded(CategoryDecodedAudio, channel, h, multi)
}

// UnregisterRawVideo removes an encoded video subscription of a channel.
func (s *Session) UnregisterRawVideo(channel, id int) error {
	return s.unregisterFrame(CategoryRawVideo, channel, id)
}

// UnregisterRawAudio removes an encoded audio subscription of a channel.
func (s *Session) UnregisterRawAudio(channel, id int) error {
	return s.unregisterFrame(CategoryRawAudio, channel, id)
}

// UnregisterDecodedImage removes a decoded image subscription of a channel.
func (s *Session) UnregisterDecodedImage(channel, id int) error {
	return s.unregisterFrame(CategoryDecodedImage, channel, id)
}

// UnregisterDecodedAudio removes a decoded audio subscription of a channel.
func (s *Session) UnregisterDecodedAudio(channel, id int) error {
	return s.unregisterFrame(CategoryDecodedAudio, channel, id)
}

func (s *Session) registerRaw(cat Category, channel int, h RawHandler, multi bool) (int, error) {
	if h == nil {
		return 0, fmt.Errorf("%w: nil handler", ErrInvalidParameter)
	}
	if err := s.checkChannel(channel); err != nil {
		return 0, err
	}
	return s.register(subKey{category: cat, channel: channel}, multi, func(sub *subscriber) { sub.onRaw = h })
}

func (s *Session) registerDecoded(cat Category, channel int, h DecodedHandler, multi bool) (int, error) {
	if h == nil {
		return 0, fmt.Errorf("%w: nil handler", ErrInvalidParameter)
	}
	if err := s.checkChannel(channel); err != nil {
		return 0, err
	}
	return s.register(subKey{category: cat, channel: channel}, multi, func(sub *subscriber) { sub.onDecoded = h })
}

func (s *Session) unregisterFrame(cat Category, channel, id int) error {
	if err := s.checkChannel(channel); err != nil {
		return err
	}
	return s.unregister(subKey{category: cat, channel: channel}, id)
}

func (s *Session) checkChannel(channel int) error {
	if channel < 0 || channel >= s.desc.ChannelCount {
		return fmt.Errorf("%w: channel %d out of range [0, %d)", ErrInvalidParameter, channel, s.desc.ChannelCount)
	}
	return nil
}

// register adds a subscriber on the loop. The first frame subscriber of a
// channel activates the native raw-data subscription.
func (s *Session) register(key subKey, multi bool, bind func(*subscriber)) (int, error) {
	var (
		id     int
		regErr error
	)
	err := s.loop.call(func() {
		frame := key.category != CategoryStatus
		if frame && s.rawRefs[key.channel] == 0 {
			if err := s.activateRaw(key.channel); err != nil {
				regErr = err
				return
			}
		}

		sub := newSubscriber(key, s.cfg.SubscriberQueueSize, s.cfg.SubscriberDropPolicy, &s.droppedDeliver, s.logger)
		bind(sub)
		var (
			prev     *subscriber
			replaced bool
		)
		id, prev, replaced = s.subs.Add(key, sub, multi)
		sub.start()
		if replaced {
			prev.close()
		} else if frame {
			s.rawRefs[key.channel]++
		}
	})
	if err != nil {
		return 0, err
	}
	if regErr != nil {
		return 0, regErr
	}
	return id, nil
}

// unregister removes a subscriber on the loop. Removing the last frame
// subscriber of a channel deactivates the native raw-data subscription.
func (s *Session) unregister(key subKey, id int) error {
	_ = s.loop.call(func() {
		sub, ok := s.subs.Remove(key, id)
		if !ok {
			return
		}
		sub.close()
		if key.category == CategoryStatus {
			return
		}
		s.rawRefs[key.channel]--
		if s.rawRefs[key.channel] == 0 {
			s.deactivateRaw(key.channel)
		}
	})
	return nil
}

// Stats returns runtime statistics.
func (s *Session) Stats() Stats {
	st := Stats{
		Info:              s.Info(),
		ConnectAttempts:   s.connectAttempts.Load(),
		ConnectFailures:   s.connectFailures.Load(),
		UnknownCodecs:     s.unknownCodecs.Load(),
		DroppedDeliveries: s.droppedDeliver.Load(),
		NextRetry:         s.backoff.Current(),
		Mailbox:           s.loop.stats(),
	}
	_ = s.loop.call(func() {
		for ch, refs := range s.rawRefs {
			if refs > 0 {
				st.ActiveChannels = append(st.ActiveChannels, ch)
			}
		}
		for _, key := range s.subs.Keys() {
			st.Subscribers += s.subs.Len(key)
		}
		if s.pipeline != nil {
			st.Decode = s.pipeline.Stats()
		}
	})
	sort.Ints(st.ActiveChannels)
	return st
}

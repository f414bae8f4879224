package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/camera-gateway/internal/decode"
	"github.com/rickgao/camera-gateway/internal/native"
)

// Native log levels.
const (
	nativeLogDebug = 0
	nativeLogInfo  = 1
	nativeLogWarn  = 2
)

// Option configures a Manager.
type Option func(*Manager)

// WithDecoderFactory sets the codec backend of the decode pipelines.
// Defaults to decode.Passthrough.
func WithDecoderFactory(f decode.Factory) Option {
	return func(m *Manager) {
		m.decoder = f
	}
}

// WithRecorder sets the recorder used by sessions started with EnableRecord.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		m.recorder = r
	}
}

// Manager owns the native library lifecycle and the sessions keyed by
// device id.
type Manager struct {
	lib      native.Library
	cfg      Config
	decoder  decode.Factory
	recorder Recorder
	after    afterFunc
	logger   *slog.Logger

	createMu sync.Mutex // Serializes native instance allocation

	mu          sync.RWMutex
	initialized bool
	sessions    map[string]*Session
}

// NewManager creates a manager over lib.
func NewManager(lib native.Library, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		lib:      lib,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init initializes the native library. Calling Init again is a no-op.
func (m *Manager) Init(ctx context.Context, host, clientID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	m.lib.SetLogHandler(m.nativeLog)
	if _, err := offload(ctx, func() (struct{}, error) {
		return struct{}{}, m.lib.Init(host, clientID, token)
	}); err != nil {
		m.lib.SetLogHandler(nil)
		return fmt.Errorf("init native library: %w", err)
	}
	m.initialized = true

	version, err := offload(ctx, m.lib.Version)
	if err != nil {
		m.logger.Warn("failed to query native library version", "error", err)
	}
	m.logger.Info("native library initialized", "host", host, "client_id", clientID, "version", version)
	return nil
}

// nativeLog forwards native log lines into slog.
func (m *Manager) nativeLog(level int, msg string) {
	var lvl slog.Level
	switch level {
	case nativeLogDebug:
		lvl = slog.LevelDebug
	case nativeLogInfo:
		lvl = slog.LevelInfo
	case nativeLogWarn:
		lvl = slog.LevelWarn
	default:
		lvl = slog.LevelError
	}
	m.logger.Log(context.Background(), lvl, msg, "source", "native")
}

// CreateSession returns the session of desc.DeviceID, allocating a native
// instance if none exists yet.
func (m *Manager) CreateSession(desc Descriptor) (*Session, error) {
	if desc.DeviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrInvalidParameter)
	}
	if desc.ChannelCount <= 0 {
		desc.ChannelCount = 1
	}
	if desc.ChannelCount > math.MaxUint8 {
		return nil, fmt.Errorf("%w: channel count %d", ErrInvalidParameter, desc.ChannelCount)
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	m.mu.RLock()
	initialized := m.initialized
	existing := m.sessions[desc.DeviceID]
	m.mu.RUnlock()
	if !initialized {
		return nil, ErrNotInitialized
	}
	if existing != nil {
		return existing, nil
	}

	handle, err := m.lib.New(native.CameraInfo{
		DeviceID:     desc.DeviceID,
		Model:        desc.Model,
		ChannelCount: uint8(desc.ChannelCount),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSessionCreation, desc.DeviceID, err)
	}

	s := newSession(desc, m.lib, handle, m.cfg, sessionDeps{
		decoder:  m.decoder,
		recorder: m.recorder,
		after:    m.after,
	}, m.logger)

	m.mu.Lock()
	m.sessions[desc.DeviceID] = s
	m.mu.Unlock()

	m.logger.Info("session created",
		"device_id", desc.DeviceID,
		"model", desc.Model,
		"channels", desc.ChannelCount)
	return s, nil
}

// Session returns the session of deviceID.
func (m *Manager) Session(deviceID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, deviceID)
	}
	return s, nil
}

// Sessions returns a snapshot of every session, sorted by device id.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].DeviceID < infos[j].DeviceID
	})
	return infos
}

// Stats returns statistics of every session, sorted by device id.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	stats := make([]Stats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.Stats())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].DeviceID < stats[j].DeviceID
	})
	return stats
}

// StartSession starts the session of deviceID.
func (m *Manager) StartSession(ctx context.Context, deviceID string, opts StartOptions) error {
	s, err := m.Session(deviceID)
	if err != nil {
		return err
	}
	return s.Start(ctx, opts)
}

// StopSession stops the session of deviceID. Unknown ids are ignored.
func (m *Manager) StopSession(ctx context.Context, deviceID string) error {
	s, err := m.Session(deviceID)
	if err != nil {
		return nil
	}
	return s.Stop(ctx)
}

// QueryStatus asks the native layer for the status of deviceID.
func (m *Manager) QueryStatus(ctx context.Context, deviceID string) (Status, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return 0, err
	}
	return s.QueryStatus(ctx)
}

// ReconcileStatus applies a natively observed status to deviceID.
func (m *Manager) ReconcileStatus(deviceID string, observed Status) error {
	s, err := m.Session(deviceID)
	if err != nil {
		return err
	}
	return s.Reconcile(observed)
}

// RegisterStatus subscribes h to status changes of deviceID.
func (m *Manager) RegisterStatus(deviceID string, h StatusHandler, multi bool) (int, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return 0, err
	}
	return s.RegisterStatus(h, multi)
}

// RegisterRawVideo subscribes h to encoded video of deviceID's channel.
func (m *Manager) RegisterRawVideo(deviceID string, channel int, h RawHandler, multi bool) (int, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return 0, err
	}
	return s.RegisterRawVideo(channel, h, multi)
}

// RegisterRawAudio subscribes h to encoded audio of deviceID's channel.
func (m *Manager) RegisterRawAudio(deviceID string, channel int, h RawHandler, multi bool) (int, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return 0, err
	}
	return s.RegisterRawAudio(channel, h, multi)
}

// RegisterDecodedImage subscribes h to decoded images of deviceID's channel.
func (m *Manager) RegisterDecodedImage(deviceID string, channel int, h DecodedHandler, multi bool) (int, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return 0, err
	}
	return s.RegisterDecodedImage(channel, h, multi)
}

// RegisterDecodedAudio subscribes h to decoded audio of deviceID's channel.
func (m *Manager) RegisterDecodedAudio(deviceID string, channel int, h DecodedHandler, multi bool) (int, error) {
	s, err := m.Session(deviceID)
	if err != nil {
		return 0, err
	}
	return s.RegisterDecodedAudio(channel, h, multi)
}

// Unregister removes a subscription of deviceID. The channel is ignored for
// CategoryStatus.
func (m *Manager) Unregister(deviceID string, cat Category, channel, id int) error {
	s, err := m.Session(deviceID)
	if err != nil {
		return err
	}
	switch cat {
	case CategoryStatus:
		return s.UnregisterStatus(id)
	case CategoryRawVideo, CategoryRawAudio, CategoryDecodedImage, CategoryDecodedAudio:
		return s.unregisterFrame(cat, channel, id)
	}
	return fmt.Errorf("%w: category %d", ErrInvalidParameter, int(cat))
}

// DestroySession stops the session of deviceID and releases its native
// resources. Unknown ids are ignored.
func (m *Manager) DestroySession(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	delete(m.sessions, deviceID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.destroy(ctx)
}

// UpdateToken replaces the access token used by the native layer for every
// session.
func (m *Manager) UpdateToken(ctx context.Context, token string) error {
	if !m.Initialized() {
		return ErrNotInitialized
	}
	if _, err := offload(ctx, func() (struct{}, error) {
		return struct{}{}, m.lib.UpdateToken(token)
	}); err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	m.logger.Info("access token updated")
	return nil
}

// Version returns the native library version.
func (m *Manager) Version(ctx context.Context) (string, error) {
	v, err := offload(ctx, m.lib.Version)
	if err != nil {
		return "", fmt.Errorf("query version: %w", err)
	}
	return v, nil
}

// Initialized reports whether Init succeeded and Deinit has not been called.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Deinit destroys every session concurrently and shuts the native library
// down.
func (m *Manager) Deinit(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	initialized := m.initialized
	m.initialized = false
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			return s.destroy(gctx)
		})
	}
	err := g.Wait()

	if initialized {
		m.lib.SetLogHandler(nil)
		m.lib.Deinit()
		m.logger.Info("native library deinitialized", "sessions", len(sessions))
	}
	return err
}

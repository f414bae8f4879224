package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/camera-gateway/internal/media"
	"github.com/rickgao/camera-gateway/internal/native"
	"github.com/rickgao/camera-gateway/internal/native/nativetest"
)

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestManager_CreateBeforeInit(t *testing.T) {
	m := NewManager(nativetest.New(), testConfig(), nil)

	_, err := m.CreateSession(Descriptor{DeviceID: "cam-1", ChannelCount: 1})
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("CreateSession() error = %v, want ErrNotInitialized", err)
	}
	if err := m.UpdateToken(context.Background(), "t"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("UpdateToken() error = %v, want ErrNotInitialized", err)
	}
}

func TestManager_InitIdempotent(t *testing.T) {
	m, lib, _ := newTestManager(t)

	if err := m.Init(context.Background(), "h", "c", "t"); err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	if got := lib.Count("init", 0, -1); got != 1 {
		t.Errorf("native init calls = %d, want 1", got)
	}
	if !m.Initialized() {
		t.Error("Initialized() = false, want true")
	}
}

func TestManager_CreateSessionDeduplicates(t *testing.T) {
	m, lib, _ := newTestManager(t)

	desc := Descriptor{DeviceID: "cam-1", Model: "m", ChannelCount: 2}
	s1, err := m.CreateSession(desc)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	s2, err := m.CreateSession(desc)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if s1 != s2 {
		t.Error("CreateSession() returned a new session for a known device id")
	}
	if got := lib.Count("new", 0, -1); got != 1 {
		t.Errorf("native new calls = %d, want 1", got)
	}
}

func TestManager_CreateSessionDefaultsChannelCount(t *testing.T) {
	m, _, _ := newTestManager(t)

	s, err := m.CreateSession(Descriptor{DeviceID: "cam-1"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if got := s.Descriptor().ChannelCount; got != 1 {
		t.Errorf("ChannelCount = %d, want 1", got)
	}

	if _, err := m.CreateSession(Descriptor{}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("empty device id error = %v, want ErrInvalidParameter", err)
	}
	if _, err := m.CreateSession(Descriptor{DeviceID: "big", ChannelCount: 300}); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("channel count 300 error = %v, want ErrInvalidParameter", err)
	}
}

func TestManager_CreateSessionNativeFailure(t *testing.T) {
	m, lib, _ := newTestManager(t)
	lib.SetNewError(native.ErrNullHandle)

	_, err := m.CreateSession(Descriptor{DeviceID: "cam-1", ChannelCount: 1})
	if !errors.Is(err, ErrSessionCreation) {
		t.Fatalf("CreateSession() error = %v, want ErrSessionCreation", err)
	}
	if !errors.Is(err, native.ErrNullHandle) {
		t.Errorf("CreateSession() error = %v, want wrapped ErrNullHandle", err)
	}
	if _, err := m.Session("cam-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Session() error = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_UnknownSession(t *testing.T) {
	m, lib, _ := newTestManager(t)
	ctx := context.Background()
	before := len(lib.Calls())

	if err := m.StartSession(ctx, "nope", StartOptions{}); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("StartSession() error = %v, want ErrSessionNotFound", err)
	}
	if _, err := m.QueryStatus(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("QueryStatus() error = %v, want ErrSessionNotFound", err)
	}
	if _, err := m.RegisterRawVideo("nope", 0, func(string, media.Frame) {}, true); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("RegisterRawVideo() error = %v, want ErrSessionNotFound", err)
	}
	if err := m.Unregister("nope", CategoryStatus, 0, 0); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Unregister() error = %v, want ErrSessionNotFound", err)
	}
	if err := m.StopSession(ctx, "nope"); err != nil {
		t.Errorf("StopSession() error = %v, want nil", err)
	}
	if err := m.DestroySession(ctx, "nope"); err != nil {
		t.Errorf("DestroySession() error = %v, want nil", err)
	}
	if got := len(lib.Calls()); got != before {
		t.Errorf("native calls = %d, want %d", got, before)
	}
}

func TestManager_SessionHelpers(t *testing.T) {
	m, lib, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateSession(Descriptor{DeviceID: "cam-1", ChannelCount: 2})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	var statuses collector[Status]
	statusID, err := m.RegisterStatus("cam-1", func(_ string, st Status) { statuses.add(st) }, true)
	if err != nil {
		t.Fatalf("RegisterStatus() error = %v", err)
	}
	videoID, err := m.RegisterRawVideo("cam-1", 1, func(string, media.Frame) {}, true)
	if err != nil {
		t.Fatalf("RegisterRawVideo() error = %v", err)
	}
	if _, err := m.RegisterDecodedImage("cam-1", 5, func(string, media.Decoded) {}, true); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("RegisterDecodedImage(5) error = %v, want ErrInvalidParameter", err)
	}

	if err := m.StartSession(ctx, "cam-1", StartOptions{}); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	lib.EmitStatus(s.handle, native.StatusConnected)
	waitFor(t, "status", func() bool { return statuses.len() == 1 })

	got, err := m.QueryStatus(ctx, "cam-1")
	if err != nil || got != StatusConnected {
		t.Errorf("QueryStatus() = %v, %v, want %v", got, err, StatusConnected)
	}

	if err := m.Unregister("cam-1", CategoryRawVideo, 1, videoID); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if lib.RawRegistered(s.handle, 1) {
		t.Error("channel 1 still registered")
	}
	if err := m.Unregister("cam-1", CategoryStatus, 0, statusID); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if err := m.Unregister("cam-1", Category(99), 0, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("Unregister(unknown category) error = %v, want ErrInvalidParameter", err)
	}

	if err := m.StopSession(ctx, "cam-1"); err != nil {
		t.Fatalf("StopSession() error = %v", err)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() = %v, want %v", s.Status(), StatusStopped)
	}
}

func TestManager_DestroySession(t *testing.T) {
	m, lib, _ := newTestManager(t)
	ctx := context.Background()

	s, _ := m.CreateSession(Descriptor{DeviceID: "cam-1", ChannelCount: 2})
	s.RegisterRawAudio(0, func(string, media.Frame) {}, true)
	if err := s.Start(ctx, StartOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := m.DestroySession(ctx, "cam-1"); err != nil {
		t.Fatalf("DestroySession() error = %v", err)
	}
	if got := lib.Count("stop", s.handle, -1); got != 1 {
		t.Errorf("native stop calls = %d, want 1", got)
	}
	if got := lib.Count("unregister_status", s.handle, -1); got != 1 {
		t.Errorf("unregister_status calls = %d, want 1", got)
	}
	if lib.RawRegistered(s.handle, 0) {
		t.Error("channel 0 still registered")
	}
	if !lib.Freed(s.handle) {
		t.Error("native handle not freed")
	}
	if _, err := m.Session("cam-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Session() error = %v, want ErrSessionNotFound", err)
	}

	// The destroyed session rejects further use.
	if err := s.Start(ctx, StartOptions{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Start() after destroy error = %v, want ErrSessionClosed", err)
	}
	if _, err := s.RegisterRawVideo(0, func(string, media.Frame) {}, true); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("RegisterRawVideo() after destroy error = %v, want ErrSessionClosed", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop() after destroy error = %v", err)
	}
}

func TestManager_DestroyIdleSessionReleasesRegistrations(t *testing.T) {
	m, lib, _ := newTestManager(t)

	s, _ := m.CreateSession(Descriptor{DeviceID: "cam-1", ChannelCount: 1})
	s.RegisterDecodedImage(0, func(string, media.Decoded) {}, true)

	if err := m.DestroySession(context.Background(), "cam-1"); err != nil {
		t.Fatalf("DestroySession() error = %v", err)
	}
	if got := lib.Count("unregister_raw", s.handle, 0); got != 1 {
		t.Errorf("unregister_raw calls = %d, want 1", got)
	}
	if got := lib.Count("stop", s.handle, -1); got != 0 {
		t.Errorf("native stop calls = %d, want 0", got)
	}
	if !lib.Freed(s.handle) {
		t.Error("native handle not freed")
	}
}

func TestManager_Deinit(t *testing.T) {
	lib := nativetest.New()
	m := NewManager(lib, testConfig(), nil)
	ctx := context.Background()
	if err := m.Init(ctx, "h", "c", "t"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	var handles []native.Handle
	for _, id := range []string{"cam-b", "cam-a", "cam-c"} {
		s, err := m.CreateSession(Descriptor{DeviceID: id, ChannelCount: 1})
		if err != nil {
			t.Fatalf("CreateSession(%s) error = %v", id, err)
		}
		if err := s.Start(ctx, StartOptions{}); err != nil {
			t.Fatalf("Start(%s) error = %v", id, err)
		}
		handles = append(handles, s.handle)
	}

	infos := m.Sessions()
	if len(infos) != 3 || infos[0].DeviceID != "cam-a" || infos[2].DeviceID != "cam-c" {
		t.Errorf("Sessions() = %+v, want sorted by id", infos)
	}

	if err := m.Deinit(ctx); err != nil {
		t.Fatalf("Deinit() error = %v", err)
	}
	for _, h := range handles {
		if !lib.Freed(h) {
			t.Errorf("handle %d not freed", h)
		}
	}
	if got := lib.Count("deinit", 0, -1); got != 1 {
		t.Errorf("native deinit calls = %d, want 1", got)
	}
	if len(m.Sessions()) != 0 {
		t.Errorf("Sessions() = %v, want none", m.Sessions())
	}
	if m.Initialized() {
		t.Error("Initialized() = true after Deinit")
	}
}

func TestManager_UpdateTokenAndVersion(t *testing.T) {
	m, lib, _ := newTestManager(t)
	lib.SetVersion("3.2.1")

	if err := m.UpdateToken(context.Background(), "fresh"); err != nil {
		t.Fatalf("UpdateToken() error = %v", err)
	}
	if got := lib.Token(); got != "fresh" {
		t.Errorf("Token() = %q, want %q", got, "fresh")
	}

	v, err := m.Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != "3.2.1" {
		t.Errorf("Version() = %q, want %q", v, "3.2.1")
	}
}

func TestManager_VersionHonoursContext(t *testing.T) {
	m, _, _ := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	// Either the call wins the race or the context does; it must not hang.
	if _, err := m.Version(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Version() error = %v", err)
	}
}

func TestManager_NativeLogForwarded(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	lib := nativetest.New()
	m := NewManager(lib, testConfig(), logger)
	if err := m.Init(context.Background(), "h", "c", "t"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer m.Deinit(context.Background())

	tests := []struct {
		level int
		want  string
	}{
		{0, "level=DEBUG"},
		{1, "level=INFO"},
		{2, "level=WARN"},
		{3, "level=ERROR"},
	}
	for _, tt := range tests {
		msg := "native line " + strings.TrimPrefix(tt.want, "level=")
		lib.EmitLog(tt.level, msg)
		out := buf.String()
		idx := strings.Index(out, msg)
		if idx < 0 {
			t.Errorf("log line %q not forwarded", msg)
			continue
		}
		line := out[strings.LastIndex(out[:idx], "\n")+1:]
		if end := strings.IndexByte(line, '\n'); end >= 0 {
			line = line[:end]
		}
		if !strings.Contains(line, tt.want) {
			t.Errorf("level %d logged as %q, want %s", tt.level, line, tt.want)
		}
	}
}

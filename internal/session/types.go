package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/camera-gateway/internal/backoff"
	"github.com/rickgao/camera-gateway/internal/decode"
	"github.com/rickgao/camera-gateway/internal/media"
	"github.com/rickgao/camera-gateway/internal/native"
	"github.com/rickgao/camera-gateway/internal/queue"
)

// Errors
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionCreation  = errors.New("session creation failed")
	ErrConnectFailed    = errors.New("connect failed")
	ErrNotInitialized   = errors.New("native library not initialized")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrSessionClosed    = errors.New("session closed")
)

// PinCodeLength is the required length of a camera pin code.
const PinCodeLength = 4

// Status is the state of a session.
type Status int

const (
	StatusIdle         Status = 0
	StatusDisconnected Status = native.StatusDisconnected
	StatusConnecting   Status = native.StatusConnecting
	StatusReConnecting Status = native.StatusReConnecting
	StatusConnected    Status = native.StatusConnected
	StatusError        Status = native.StatusError
	StatusStopped      Status = 6
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusReConnecting:
		return "reconnecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	case StatusStopped:
		return "stopped"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText renders the status name in JSON and logs.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// statusFromNative translates a native status code.
func statusFromNative(code int) (Status, bool) {
	switch code {
	case native.StatusDisconnected, native.StatusConnecting, native.StatusReConnecting,
		native.StatusConnected, native.StatusError:
		return Status(code), true
	}
	return 0, false
}

// Category identifies a subscriber table.
type Category int

const (
	CategoryStatus Category = iota
	CategoryRawVideo
	CategoryRawAudio
	CategoryDecodedImage
	CategoryDecodedAudio
)

func (c Category) String() string {
	switch c {
	case CategoryStatus:
		return "status"
	case CategoryRawVideo:
		return "raw_video"
	case CategoryRawAudio:
		return "raw_audio"
	case CategoryDecodedImage:
		return "decoded_image"
	case CategoryDecodedAudio:
		return "decoded_audio"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// frameCategories share the native raw-data subscription of a channel.
var frameCategories = [...]Category{
	CategoryRawVideo,
	CategoryRawAudio,
	CategoryDecodedImage,
	CategoryDecodedAudio,
}

// subKey is the registry key: (category, channel). Status uses channel 0.
type subKey struct {
	category Category
	channel  int
}

var statusKey = subKey{category: CategoryStatus}

// Handlers run on the subscriber's delivery goroutine. Frame payloads are
// shared between subscribers and must be treated as read-only.
type (
	StatusHandler  func(deviceID string, status Status)
	RawHandler     func(deviceID string, frame media.Frame)
	DecodedHandler func(deviceID string, out media.Decoded)
)

// Descriptor identifies a camera. Immutable after session creation.
type Descriptor struct {
	DeviceID     string
	Model        string
	ChannelCount int
}

// Info is a point-in-time view of a session.
type Info struct {
	Descriptor
	Status Status
	Online bool // Always Status == StatusConnected
}

// StartOptions configures a session run.
type StartOptions struct {
	// Qualities is empty (low on every channel), a single code applied to
	// every channel, or one code per channel.
	Qualities       []media.Quality
	PinCode         string // Empty or exactly PinCodeLength characters
	EnableAudio     bool
	EnableReconnect bool
	EnableRecord    bool
}

// Recorder persists session activity when StartOptions.EnableRecord is set.
// Implementations must not block.
type Recorder interface {
	RecordStatus(deviceID, status string, at time.Time)
	RecordFrame(deviceID string, frame media.Frame, at time.Time)
}

// Config holds session configuration shared by every session of a manager.
type Config struct {
	Backoff              backoff.Policy
	Decode               decode.Config // EnableAudio is taken from StartOptions
	SubscriberQueueSize  int
	SubscriberDropPolicy queue.DropPolicy
	MailboxSize          int // Initial control-loop mailbox capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backoff:              backoff.DefaultPolicy(),
		Decode:               decode.DefaultConfig(),
		SubscriberQueueSize:  64,
		SubscriberDropPolicy: queue.DropOldest,
		MailboxSize:          256,
	}
}

// Stats contains runtime statistics of a session.
type Stats struct {
	Info
	ConnectAttempts   int64
	ConnectFailures   int64
	UnknownCodecs     int64
	DroppedDeliveries int64
	ActiveChannels    []int // Channels with an active native raw-data subscription
	Subscribers       int
	NextRetry         time.Duration // Current backoff delay
	Decode            []decode.WorkerStats
	Mailbox           queue.Stats
}

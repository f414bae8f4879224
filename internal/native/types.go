package native

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrCallFailed = errors.New("native call failed")
	ErrNullHandle = errors.New("native instance allocation returned null")
)

// Error is a nonzero result from the native layer.
type Error struct {
	Op   string
	Code int
}

func (e *Error) Error() string {
	return fmt.Sprintf("native %s failed: code %d", e.Op, e.Code)
}

// Is makes errors.Is(err, ErrCallFailed) true for every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrCallFailed
}

// Result converts a native status code into an error (0 means success).
func Result(op string, code int) error {
	if code == 0 {
		return nil
	}
	return &Error{Op: op, Code: code}
}

// Native status codes reported by the status-changed callback.
const (
	StatusDisconnected = 1
	StatusConnecting   = 2
	StatusReConnecting = 3
	StatusConnected    = 4
	StatusError        = 5
)

// Handle identifies a native camera instance.
type Handle uint32

// CameraInfo is passed to the library when allocating an instance.
type CameraInfo struct {
	DeviceID     string `json:"did"`
	Model        string `json:"model"`
	ChannelCount uint8  `json:"channel_count"`
}

// StartConfig is the native start configuration.
type StartConfig struct {
	// Qualities holds one quality code per channel followed by a 0 sentinel.
	Qualities   []uint8 `json:"video_qualities"`
	EnableAudio bool    `json:"enable_audio"`
	PinCode     string  `json:"pin_code,omitempty"`
}

// FrameHeader precedes every raw frame payload.
type FrameHeader struct {
	Codec     uint32
	Length    uint32
	Timestamp uint64 // Milliseconds
	Sequence  uint32
	FrameType uint32
	Channel   uint8
}

// Callbacks invoked from native-owned threads.
type (
	StatusCallback  func(status int)
	RawDataCallback func(header FrameHeader, payload []byte)
	LogHandler      func(level int, msg string)
)

// Library is the native transport contract.
type Library interface {
	Init(host, clientID, token string) error
	Deinit()
	UpdateToken(token string) error

	New(info CameraInfo) (Handle, error)
	Free(h Handle)

	// Start, Stop and Status may block; callers run them off their control loop.
	Start(h Handle, cfg StartConfig) error
	Stop(h Handle) error
	Status(h Handle) (int, error)
	Version() (string, error)

	RegisterStatusChanged(h Handle, cb StatusCallback) error
	UnregisterStatusChanged(h Handle) error
	RegisterRawData(h Handle, channel int, cb RawDataCallback) error
	UnregisterRawData(h Handle, channel int) error

	SetLogHandler(fn LogHandler)
}

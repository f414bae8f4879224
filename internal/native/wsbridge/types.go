package wsbridge

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrTimeout         = errors.New("command timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrShortFrame      = errors.New("binary frame shorter than header")
)

// Message is a WebSocket message with its local receive time.
type Message struct {
	Type       int // websocket.TextMessage or websocket.BinaryMessage
	Data       []byte
	ReceivedAt time.Time
}

// Command is sent to the sidecar.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params,omitempty"`
}

// Response answers a Command.
type Response struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"` // "ok" or "error"
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Event is an unsolicited text message from the sidecar.
type Event struct {
	Type   string `json:"type"` // "status" or "log"
	Handle uint32 `json:"handle,omitempty"`
	Status int    `json:"status,omitempty"`
	Level  int    `json:"level,omitempty"`
	Msg    string `json:"msg,omitempty"`
}

// Command names.
const (
	CmdInit             = "init"
	CmdDeinit           = "deinit"
	CmdUpdateToken      = "update_token"
	CmdNew              = "new"
	CmdFree             = "free"
	CmdStart            = "start"
	CmdStop             = "stop"
	CmdStatus           = "status"
	CmdVersion          = "version"
	CmdRegisterStatus   = "register_status"
	CmdUnregisterStatus = "unregister_status"
	CmdRegisterRaw      = "register_raw"
	CmdUnregisterRaw    = "unregister_raw"
	CmdSetLogHandler    = "set_log_handler"
)

type initParams struct {
	Host     string `json:"host"`
	ClientID string `json:"client_id"`
	Token    string `json:"token"`
}

type tokenParams struct {
	Token string `json:"token"`
}

type handleParams struct {
	Handle uint32 `json:"handle"`
}

type channelParams struct {
	Handle  uint32 `json:"handle"`
	Channel int    `json:"channel"`
}

type startParams struct {
	Handle uint32      `json:"handle"`
	Config startConfig `json:"config"`
}

// startConfig is native.StartConfig on the wire. Qualities are sent as
// numbers; encoding/json would base64 a []uint8.
type startConfig struct {
	Qualities   []int  `json:"video_qualities"`
	EnableAudio bool   `json:"enable_audio"`
	PinCode     string `json:"pin_code,omitempty"`
}

type logParams struct {
	Enabled bool `json:"enabled"`
}

// Stats contains runtime statistics of the bridge.
type Stats struct {
	Connected       bool
	Reconnects      int64
	PendingCommands int
	CommandsSent    int64
	CommandErrors   int64
	EventsReceived  int64
	FramesReceived  int64
	FramesDropped   int64 // No callback registered for the frame's handle and channel
	FramesOverflow  int64 // Dropped because the inbound buffer was full
}

type handleResult struct {
	Handle uint32 `json:"handle"`
}

type statusResult struct {
	Status int `json:"status"`
}

type versionResult struct {
	Version string `json:"version"`
}

// Config configures the bridge.
type Config struct {
	URL            string        // Sidecar WebSocket URL (e.g., ws://127.0.0.1:7681/bridge)
	Token          string        // Optional bearer token for the sidecar
	UserAgent      string        // Sent in the handshake when set
	RequestTimeout time.Duration // Max wait for a command response
	PingInterval   time.Duration // Keepalive ping period
	PingTimeout    time.Duration // Max time without a pong before the connection is stale
	WriteTimeout   time.Duration // Write deadline for sends
	BufferSize     int           // Inbound message channel buffer size

	ReconnectBaseWait time.Duration // First redial delay after the connection drops
	ReconnectMaxWait  time.Duration // Redial delay ceiling
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            "ws://127.0.0.1:7681/bridge",
		RequestTimeout: 10 * time.Second,
		PingInterval:   15 * time.Second,
		PingTimeout:    45 * time.Second,
		WriteTimeout:   5 * time.Second,
		BufferSize:     4096,

		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  30 * time.Second,
	}
}

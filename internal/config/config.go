package config

import "time"

// Config is the root configuration for a camerad instance.
type Config struct {
	Instance InstanceConfig  `yaml:"instance"`
	Cloud    CloudConfig     `yaml:"cloud"`
	Bridge   BridgeConfig    `yaml:"bridge"`
	Camera   CameraConfig    `yaml:"camera"`
	Sessions []SessionConfig `yaml:"sessions"`
	Database DatabaseConfig  `yaml:"database"`
	Recorder RecorderConfig  `yaml:"recorder"`
	Health   HealthConfig    `yaml:"health"`
}

// InstanceConfig identifies this gateway.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// CloudConfig holds the camera cloud credentials passed to the native library.
type CloudConfig struct {
	Region      string `yaml:"region"` // "cn" selects the default host
	ClientID    string `yaml:"client_id"`
	AccessToken string `yaml:"access_token"`
}

// Host returns the cloud API host for the configured region.
func (c CloudConfig) Host() string {
	if c.Region == "" || c.Region == DefaultRegion {
		return DefaultCloudHost
	}
	return c.Region + "." + DefaultCloudHost
}

// BridgeConfig holds the native sidecar connection settings.
type BridgeConfig struct {
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
	ReconnectBaseWait time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `yaml:"reconnect_max_wait"`
}

// CameraConfig holds settings shared by all sessions.
type CameraConfig struct {
	ReconnectMin        time.Duration `yaml:"reconnect_min"`
	ReconnectMax        time.Duration `yaml:"reconnect_max"`
	FrameInterval       time.Duration `yaml:"frame_interval"`
	DecodeQueueSize     int           `yaml:"decode_queue_size"`
	SubscriberQueueSize int           `yaml:"subscriber_queue_size"`
	DropPolicy          string        `yaml:"drop_policy"` // oldest or newest
	StartTimeout        time.Duration `yaml:"start_timeout"`
	StatusPollInterval  time.Duration `yaml:"status_poll_interval"`
}

// SessionConfig describes a camera to open at startup.
type SessionConfig struct {
	DeviceID        string   `yaml:"device_id"`
	Model           string   `yaml:"model"`
	ChannelCount    int      `yaml:"channel_count"`
	Qualities       []string `yaml:"qualities"` // low or high; one entry applies to every channel
	PinCode         string   `yaml:"pin_code"`
	EnableAudio     bool     `yaml:"enable_audio"`
	EnableReconnect *bool    `yaml:"enable_reconnect"` // Defaults to true
	EnableRecord    bool     `yaml:"enable_record"`
}

// Reconnect reports whether the session retries dropped connections.
func (s SessionConfig) Reconnect() bool {
	return s.EnableReconnect == nil || *s.EnableReconnect
}

// DatabaseConfig holds the TimescaleDB connection used for recording.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig holds batch writer settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	QueueSize     int           `yaml:"queue_size"`
}

// HealthConfig holds the health server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRegion              = "cn"
	DefaultCloudHost           = "ha.api.io.mi.com"
	DefaultBridgeURL           = "ws://127.0.0.1:7681/bridge"
	DefaultRequestTimeout      = 10 * time.Second
	DefaultPingInterval        = 15 * time.Second
	DefaultPingTimeout         = 45 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultBridgeBufferSize    = 4096
	DefaultBridgeBaseWait      = 1 * time.Second
	DefaultBridgeMaxWait       = 30 * time.Second
	DefaultReconnectMin        = 30 * time.Second
	DefaultReconnectMax        = 600 * time.Second
	DefaultFrameInterval       = 500 * time.Millisecond
	DefaultDecodeQueueSize     = 32
	DefaultSubscriberQueueSize = 64
	DefaultDropPolicy          = "oldest"
	DefaultStartTimeout        = 30 * time.Second
	DefaultStatusPollInterval  = time.Minute
	DefaultChannelCount        = 1
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultBatchSize           = 500
	DefaultFlushInterval       = 2 * time.Second
	DefaultRecorderQueueSize   = 10000
	DefaultHealthPort          = 8080
)

func (c *Config) applyDefaults() {
	// Cloud defaults
	if c.Cloud.Region == "" {
		c.Cloud.Region = DefaultRegion
	}

	// Bridge defaults
	if c.Bridge.URL == "" {
		c.Bridge.URL = DefaultBridgeURL
	}
	if c.Bridge.RequestTimeout == 0 {
		c.Bridge.RequestTimeout = DefaultRequestTimeout
	}
	if c.Bridge.PingInterval == 0 {
		c.Bridge.PingInterval = DefaultPingInterval
	}
	if c.Bridge.PingTimeout == 0 {
		c.Bridge.PingTimeout = DefaultPingTimeout
	}
	if c.Bridge.WriteTimeout == 0 {
		c.Bridge.WriteTimeout = DefaultWriteTimeout
	}
	if c.Bridge.BufferSize == 0 {
		c.Bridge.BufferSize = DefaultBridgeBufferSize
	}
	if c.Bridge.ReconnectBaseWait == 0 {
		c.Bridge.ReconnectBaseWait = DefaultBridgeBaseWait
	}
	if c.Bridge.ReconnectMaxWait == 0 {
		c.Bridge.ReconnectMaxWait = DefaultBridgeMaxWait
	}

	// Camera defaults
	if c.Camera.ReconnectMin == 0 {
		c.Camera.ReconnectMin = DefaultReconnectMin
	}
	if c.Camera.ReconnectMax == 0 {
		c.Camera.ReconnectMax = DefaultReconnectMax
	}
	if c.Camera.FrameInterval == 0 {
		c.Camera.FrameInterval = DefaultFrameInterval
	}
	if c.Camera.DecodeQueueSize == 0 {
		c.Camera.DecodeQueueSize = DefaultDecodeQueueSize
	}
	if c.Camera.SubscriberQueueSize == 0 {
		c.Camera.SubscriberQueueSize = DefaultSubscriberQueueSize
	}
	if c.Camera.DropPolicy == "" {
		c.Camera.DropPolicy = DefaultDropPolicy
	}
	if c.Camera.StartTimeout == 0 {
		c.Camera.StartTimeout = DefaultStartTimeout
	}
	if c.Camera.StatusPollInterval == 0 {
		c.Camera.StatusPollInterval = DefaultStatusPollInterval
	}

	// Session defaults
	for i := range c.Sessions {
		if c.Sessions[i].ChannelCount == 0 {
			c.Sessions[i].ChannelCount = DefaultChannelCount
		}
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.QueueSize == 0 {
		c.Recorder.QueueSize = DefaultRecorderQueueSize
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

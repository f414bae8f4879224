package config

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rickgao/camera-gateway/internal/media"
	"github.com/rickgao/camera-gateway/internal/queue"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Cloud.ClientID == "" {
		return errors.New("cloud.client_id is required")
	}
	if c.Cloud.AccessToken == "" {
		return errors.New("cloud.access_token is required")
	}

	if c.Bridge.URL == "" {
		return errors.New("bridge.url is required")
	}
	if c.Bridge.BufferSize < 1 {
		return errors.New("bridge.buffer_size must be >= 1")
	}

	if c.Camera.ReconnectMin <= 0 {
		return errors.New("camera.reconnect_min must be > 0")
	}
	if c.Camera.ReconnectMax < c.Camera.ReconnectMin {
		return fmt.Errorf("camera.reconnect_max (%s) cannot be less than reconnect_min (%s)",
			c.Camera.ReconnectMax, c.Camera.ReconnectMin)
	}
	if c.Camera.FrameInterval < 0 {
		return errors.New("camera.frame_interval must be >= 0")
	}
	if c.Camera.DecodeQueueSize < 1 {
		return errors.New("camera.decode_queue_size must be >= 1")
	}
	if c.Camera.SubscriberQueueSize < 1 {
		return errors.New("camera.subscriber_queue_size must be >= 1")
	}
	if c.Camera.StatusPollInterval <= 0 {
		return errors.New("camera.status_poll_interval must be > 0")
	}
	if _, err := queue.ParseDropPolicy(c.Camera.DropPolicy); err != nil {
		return fmt.Errorf("camera.drop_policy: %w", err)
	}

	seen := make(map[string]bool, len(c.Sessions))
	for i, s := range c.Sessions {
		if err := s.validate(fmt.Sprintf("sessions[%d]", i)); err != nil {
			return err
		}
		if seen[s.DeviceID] {
			return fmt.Errorf("sessions[%d].device_id %q is duplicated", i, s.DeviceID)
		}
		seen[s.DeviceID] = true
	}

	if c.Recorder.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.QueueSize < 1 {
			return errors.New("recorder.queue_size must be >= 1")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

// ParsedQualities converts the configured quality names.
func (s SessionConfig) ParsedQualities() ([]media.Quality, error) {
	out := make([]media.Quality, 0, len(s.Qualities))
	for _, name := range s.Qualities {
		q, err := media.ParseQuality(name)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (s SessionConfig) validate(prefix string) error {
	if s.DeviceID == "" {
		return fmt.Errorf("%s.device_id is required", prefix)
	}
	if s.ChannelCount < 1 || s.ChannelCount > 255 {
		return fmt.Errorf("%s.channel_count must be between 1 and 255, got %d", prefix, s.ChannelCount)
	}
	if len(s.Qualities) > 1 && len(s.Qualities) != s.ChannelCount {
		return fmt.Errorf("%s.qualities must have 1 or %d entries, got %d", prefix, s.ChannelCount, len(s.Qualities))
	}
	if _, err := s.ParsedQualities(); err != nil {
		return fmt.Errorf("%s.qualities: %w", prefix, err)
	}
	if s.PinCode != "" && utf8.RuneCountInString(s.PinCode) != 4 {
		return fmt.Errorf("%s.pin_code must be 4 characters", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

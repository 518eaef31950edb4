package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := c.Feed.validate("feed"); err != nil {
		return err
	}

	if c.API.RestURL != "" {
		if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
			return err
		}
	}
	if c.API.PrivateKeyPath != "" && c.API.APIKey == "" {
		return errors.New("api.api_key is required when api.private_key_path is set")
	}
	if c.API.Retry.MaxAttempts < 1 {
		return errors.New("api.retry.max_attempts must be >= 1")
	}
	if c.API.Retry.Delay < 0 {
		return errors.New("api.retry.delay must be >= 0")
	}

	if c.Journal.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.FlushInterval <= 0 {
			return errors.New("journal.flush_interval must be > 0")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (f *FeedConfig) validate(prefix string) error {
	if f.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	if err := validateURL(prefix+".url", f.URL, "ws", "wss"); err != nil {
		return err
	}
	if f.ReconnectInterval < 0 {
		return fmt.Errorf("%s.reconnect_interval must be >= 0", prefix)
	}
	if f.ReconnectMaxDelay < f.ReconnectInterval {
		return fmt.Errorf("%s.reconnect_max_delay (%v) cannot be below reconnect_interval (%v)",
			prefix, f.ReconnectMaxDelay, f.ReconnectInterval)
	}
	if f.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%s.max_reconnect_attempts must be >= 0", prefix)
	}
	if f.HeartbeatInterval < 0 {
		return fmt.Errorf("%s.heartbeat_interval must be >= 0", prefix)
	}
	if f.HeartbeatTimeout != 0 && f.HeartbeatTimeout <= f.HeartbeatInterval {
		return fmt.Errorf("%s.heartbeat_timeout must exceed heartbeat_interval", prefix)
	}
	if f.BufferSize < 1 {
		return fmt.Errorf("%s.buffer_size must be >= 1", prefix)
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

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid url: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s has no host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s must use scheme %v, got %q", field, schemes, u.Scheme)
}

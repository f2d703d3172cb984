package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Upstream.AuthURL == "" {
		return errors.New("upstream.auth_url is required")
	}
	if c.Upstream.MaxReconnectAttempts < 1 {
		return errors.New("upstream.max_reconnect_attempts must be >= 1")
	}
	if c.Upstream.ReconnectBaseDelay > c.Upstream.ReconnectMaxDelay {
		return fmt.Errorf("upstream.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Upstream.ReconnectBaseDelay, c.Upstream.ReconnectMaxDelay)
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Engine.Workers < 1 {
		return errors.New("engine.workers must be >= 1")
	}
	if c.Engine.DedupSize < 1 {
		return errors.New("engine.dedup_size must be >= 1")
	}

	if c.Dispatch.QueueSize < 1 {
		return errors.New("dispatch.queue_size must be >= 1")
	}
	if c.Dispatch.DedupSize < 1 {
		return errors.New("dispatch.dedup_size must be >= 1")
	}

	if c.Notify.Concurrency < 1 {
		return errors.New("notify.concurrency must be >= 1")
	}
	if c.Notify.MaxRetry < 3 {
		return errors.New("notify.max_retry must be >= 3")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
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

package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAuthTimeout          = 10 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultWriteTimeout         = 5 * time.Second
	DefaultRedisAddr            = "localhost:6379"
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultRefreshInterval      = 30 * time.Second
	DefaultEngineWorkers        = 8
	DefaultDedupSize            = 5000
	DefaultBulkWriteTimeout     = 15 * time.Second
	DefaultFlushInterval        = 100 * time.Millisecond
	DefaultTickTTL              = 24 * time.Hour
	DefaultQueueSize            = 8192
	DefaultReconcileInterval    = 60 * time.Second
	DefaultNotifyConcurrency    = 10
	DefaultMaxRetry             = 3
	DefaultRetryBase            = 2 * time.Second
	DefaultRetention            = 1 * time.Hour
	DefaultEmailPerSec          = 5.0
	DefaultChatPerSec           = 10.0
	DefaultTelegramAPIURL       = "https://api.telegram.org"
	DefaultLiveAddr             = ":8081"
	DefaultLiveWriteTimeout     = 10 * time.Second
	DefaultPingInterval         = 25 * time.Second
	DefaultPongTimeout          = 60 * time.Second
	DefaultSendBufferSize       = 64
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
)

func (c *Config) applyDefaults() {
	// Upstream defaults
	if c.Upstream.AuthTimeout == 0 {
		c.Upstream.AuthTimeout = DefaultAuthTimeout
	}
	if c.Upstream.ReconnectBaseDelay == 0 {
		c.Upstream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Upstream.ReconnectMaxDelay == 0 {
		c.Upstream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Upstream.MaxReconnectAttempts == 0 {
		c.Upstream.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Upstream.WriteTimeout == 0 {
		c.Upstream.WriteTimeout = DefaultWriteTimeout
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	// Engine defaults
	if c.Engine.RefreshInterval == 0 {
		c.Engine.RefreshInterval = DefaultRefreshInterval
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = DefaultEngineWorkers
	}
	if c.Engine.DedupSize == 0 {
		c.Engine.DedupSize = DefaultDedupSize
	}
	if c.Engine.BulkWriteTimeout == 0 {
		c.Engine.BulkWriteTimeout = DefaultBulkWriteTimeout
	}

	// Dispatch defaults
	if c.Dispatch.FlushInterval == 0 {
		c.Dispatch.FlushInterval = DefaultFlushInterval
	}
	if c.Dispatch.TickTTL == 0 {
		c.Dispatch.TickTTL = DefaultTickTTL
	}
	if c.Dispatch.DedupSize == 0 {
		c.Dispatch.DedupSize = DefaultDedupSize
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = DefaultQueueSize
	}

	// Subscriptions defaults
	if c.Subscriptions.ReconcileInterval == 0 {
		c.Subscriptions.ReconcileInterval = DefaultReconcileInterval
	}

	// Notify defaults
	if c.Notify.Concurrency == 0 {
		c.Notify.Concurrency = DefaultNotifyConcurrency
	}
	if c.Notify.MaxRetry == 0 {
		c.Notify.MaxRetry = DefaultMaxRetry
	}
	if c.Notify.RetryBase == 0 {
		c.Notify.RetryBase = DefaultRetryBase
	}
	if c.Notify.Retention == 0 {
		c.Notify.Retention = DefaultRetention
	}
	if c.Notify.EmailPerSec == 0 {
		c.Notify.EmailPerSec = DefaultEmailPerSec
	}
	if c.Notify.ChatPerSec == 0 {
		c.Notify.ChatPerSec = DefaultChatPerSec
	}
	if c.Notify.Telegram.APIURL == "" {
		c.Notify.Telegram.APIURL = DefaultTelegramAPIURL
	}

	// Live defaults
	if c.Live.Addr == "" {
		c.Live.Addr = DefaultLiveAddr
	}
	if c.Live.WriteTimeout == 0 {
		c.Live.WriteTimeout = DefaultLiveWriteTimeout
	}
	if c.Live.PingInterval == 0 {
		c.Live.PingInterval = DefaultPingInterval
	}
	if c.Live.PongTimeout == 0 {
		c.Live.PongTimeout = DefaultPongTimeout
	}
	if c.Live.SendBufferSize == 0 {
		c.Live.SendBufferSize = DefaultSendBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

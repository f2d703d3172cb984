package config

import "time"

// Config is the root configuration for an alertd instance.
type Config struct {
	Instance      InstanceConfig      `yaml:"instance"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Redis         RedisConfig         `yaml:"redis"`
	Database      DBConfig            `yaml:"database"`
	Engine        EngineConfig        `yaml:"engine"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Notify        NotifyConfig        `yaml:"notify"`
	Live          LiveConfig          `yaml:"live"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// InstanceConfig identifies this alertd instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// UpstreamConfig holds upstream market-data feed settings.
type UpstreamConfig struct {
	// AuthURL returns the ephemeral websocket redirect for a bearer token.
	AuthURL              string        `yaml:"auth_url"`
	AuthTimeout          time.Duration `yaml:"auth_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// RedisConfig holds the shared cache store connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DBConfig holds the durable store connection.
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

// EngineConfig holds alert cache and state machine settings.
type EngineConfig struct {
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	Workers          int           `yaml:"workers"`
	DedupSize        int           `yaml:"dedup_size"`
	BulkWriteTimeout time.Duration `yaml:"bulk_write_timeout"`
}

// DispatchConfig holds tick dispatcher settings.
type DispatchConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	TickTTL       time.Duration `yaml:"tick_ttl"`
	DedupSize     int           `yaml:"dedup_size"`
	QueueSize     int           `yaml:"queue_size"`
}

// SubscriptionsConfig holds the persistent-stock reconciler settings.
type SubscriptionsConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// NotifyConfig holds notification queue and transport settings.
type NotifyConfig struct {
	Concurrency    int            `yaml:"concurrency"`
	MaxRetry       int            `yaml:"max_retry"`
	RetryBase      time.Duration  `yaml:"retry_base"`
	Retention      time.Duration  `yaml:"retention"`
	EmailPerSec    float64        `yaml:"email_per_sec"`
	ChatPerSec     float64        `yaml:"chat_per_sec"`
	SMTP           SMTPConfig     `yaml:"smtp"`
	Telegram       TelegramConfig `yaml:"telegram"`
	PushGatewayURL string         `yaml:"push_gateway_url"`
}

// SMTPConfig holds the email transport.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TelegramConfig holds the chat-bot transport.
type TelegramConfig struct {
	APIURL   string `yaml:"api_url"`
	BotToken string `yaml:"bot_token"`
}

// LiveConfig holds the client websocket server settings.
type LiveConfig struct {
	Addr           string        `yaml:"addr"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	SendBufferSize int           `yaml:"send_buffer_size"`
}

// MetricsConfig holds Prometheus metrics and health endpoint settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

package config

import (
	"time"
)

// Config is loaded once at startup and passed by pointer into constructors.
// Nothing mutates it after Load returns.
type Config struct {
	Service        ServiceConfig        `mapstructure:"service"`
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Queue          QueueConfig          `mapstructure:"queue"`
	Dedup          DedupConfig          `mapstructure:"dedup"`
	Identity       IdentityConfig       `mapstructure:"identity"`
	Ingestion      IngestionConfig      `mapstructure:"ingestion"`
	Accounts       []AccountConfig      `mapstructure:"accounts"`
	Relay          RelayConfig          `mapstructure:"relay"`
	Reply          ReplyConfig          `mapstructure:"reply"`
	Cleaning       CleaningConfig       `mapstructure:"cleaning"`
	Completion     CompletionConfig     `mapstructure:"completion"`
	Suppression    SuppressionConfig    `mapstructure:"suppression"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Admin          AdminConfig          `mapstructure:"admin"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

type ServiceConfig struct {
	Name string `mapstructure:"name"`
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QueueConfig struct {
	Type              string      `mapstructure:"type"`
	Name              string      `mapstructure:"name"`
	PopTimeoutSeconds int         `mapstructure:"pop_timeout_seconds"`
	Kafka             KafkaConfig `mapstructure:"kafka"`
}

func (c QueueConfig) PopTimeout() time.Duration {
	return time.Duration(c.PopTimeoutSeconds) * time.Second
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type DedupConfig struct {
	SetKey       string `mapstructure:"set_key"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	TTLSeconds   int    `mapstructure:"ttl_seconds"`
	OnRedisError string `mapstructure:"on_redis_error"` // "allow" or "deny"
}

func (c DedupConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// IdentityConfig holds the content prefix lengths, in runes, hashed into a
// message identity.
type IdentityConfig struct {
	AnchoredPrefix   int `mapstructure:"anchored_prefix"`
	UnanchoredPrefix int `mapstructure:"unanchored_prefix"`
}

type IngestionConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	LookbackSeconds       int `mapstructure:"lookback_seconds"`
	OverlapSeconds        int `mapstructure:"overlap_seconds"`
	MaxLookbackSeconds    int `mapstructure:"max_lookback_seconds"`
	MailboxTimeoutSeconds int `mapstructure:"mailbox_timeout_seconds"`
}

func (c IngestionConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c IngestionConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackSeconds) * time.Second
}

func (c IngestionConfig) Overlap() time.Duration {
	return time.Duration(c.OverlapSeconds) * time.Second
}

func (c IngestionConfig) MaxLookback() time.Duration {
	return time.Duration(c.MaxLookbackSeconds) * time.Second
}

func (c IngestionConfig) MailboxTimeout() time.Duration {
	return time.Duration(c.MailboxTimeoutSeconds) * time.Second
}

// AccountConfig is one inbound mailbox.
type AccountConfig struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type RelayConfig struct {
	TimeoutSeconds int                  `mapstructure:"timeout_seconds"`
	Subject        string               `mapstructure:"subject"`
	Accounts       []RelayAccountConfig `mapstructure:"accounts"`
	Default        *RelayAccountConfig  `mapstructure:"default"`
	DomainLimit    DomainLimitConfig    `mapstructure:"domain_limit"`
}

func (c RelayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DomainLimitConfig caps replies per recipient domain within a window.
// MaxPerWindow of zero disables the limit.
type DomainLimitConfig struct {
	MaxPerWindow  int `mapstructure:"max_per_window"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

func (c DomainLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// RelayAccountConfig is an outbound SMTP account and the recipient
// addresses whose replies it sends.
type RelayAccountConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	MapTo    []string `mapstructure:"map_to"`
}

type ReplyConfig struct {
	Workers              int `mapstructure:"workers"`
	MaxAttempts          int `mapstructure:"max_attempts"`
	RetryIntervalSeconds int `mapstructure:"retry_interval_seconds"`
}

func (c ReplyConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

type CleaningConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Separators []string `mapstructure:"separators"`
}

type CompletionConfig struct {
	URL            string `mapstructure:"url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	EmptyReplyText string `mapstructure:"empty_reply_text"`
}

func (c CompletionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type SuppressionConfig struct {
	Rules []SuppressionRule `mapstructure:"rules"`
}

type SuppressionRule struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
}

type CircuitBreakerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	MaxRequests      uint32 `mapstructure:"max_requests"`
	IntervalSeconds  int    `mapstructure:"interval_seconds"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
}

type AdminConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}

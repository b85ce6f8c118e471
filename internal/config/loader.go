package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"mailreply/internal/constants"
)

var (
	mailboxEnvPattern = regexp.MustCompile(`^EMAIL(\d+)_HOST$`)
	relayEnvPattern   = regexp.MustCompile(`^SMTP(\d+)_HOST$`)
)

// LoadConfig reads the optional YAML file, layers environment variables on
// top and validates the result. An empty configFile means environment only.
func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg, os.Environ()); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", 10)
	viper.SetDefault("server.write_timeout_seconds", 10)

	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.sslmode", "disable")
	viper.SetDefault("database.redis.host", "localhost")
	viper.SetDefault("database.redis.port", 6379)
	viper.SetDefault("database.run_migrations", true)

	viper.SetDefault("queue.type", constants.QueueTypeRedis)
	viper.SetDefault("queue.name", constants.DefaultQueueName)
	viper.SetDefault("queue.pop_timeout_seconds", int(constants.DefaultQueuePopTimeout.Seconds()))
	viper.SetDefault("queue.kafka.group_id", "reply-service")

	viper.SetDefault("dedup.set_key", constants.DefaultRepliedSetKey)
	viper.SetDefault("dedup.key_prefix", constants.CacheKeyPrefixReplied)
	viper.SetDefault("dedup.ttl_seconds", constants.DefaultDedupTTLSeconds)
	viper.SetDefault("dedup.on_redis_error", constants.FallbackAllow)

	viper.SetDefault("identity.anchored_prefix", constants.DefaultAnchoredPrefix)
	viper.SetDefault("identity.unanchored_prefix", constants.DefaultUnanchoredPrefix)

	viper.SetDefault("ingestion.interval_seconds", int(constants.DefaultIngestInterval.Seconds()))
	viper.SetDefault("ingestion.lookback_seconds", int(constants.DefaultLookback.Seconds()))
	viper.SetDefault("ingestion.overlap_seconds", int(constants.DefaultCursorOverlap.Seconds()))
	viper.SetDefault("ingestion.max_lookback_seconds", int(constants.DefaultMaxLookback.Seconds()))
	viper.SetDefault("ingestion.mailbox_timeout_seconds", int(constants.DefaultMailboxTimeout.Seconds()))

	viper.SetDefault("relay.timeout_seconds", int(constants.DefaultRelayTimeout.Seconds()))
	viper.SetDefault("relay.subject", constants.DefaultReplySubject)
	viper.SetDefault("relay.domain_limit.max_per_window", 0)
	viper.SetDefault("relay.domain_limit.window_seconds", int(constants.DefaultDomainLimitWindow.Seconds()))

	viper.SetDefault("reply.workers", constants.DefaultReplyWorkers)
	viper.SetDefault("reply.max_attempts", constants.DefaultMaxAttempts)
	viper.SetDefault("reply.retry_interval_seconds", int(constants.DefaultRetryInterval.Seconds()))

	viper.SetDefault("cleaning.enabled", true)

	viper.SetDefault("completion.timeout_seconds", int(constants.DefaultCompletionTimeout.Seconds()))
	viper.SetDefault("completion.max_retries", constants.DefaultCompletionRetries)
	viper.SetDefault("completion.empty_reply_text", constants.DefaultEmptyReplyText)

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval_seconds", 60)
	viper.SetDefault("circuit_breaker.timeout_seconds", 30)
	viper.SetDefault("circuit_breaker.failure_threshold", 5)

	viper.SetDefault("admin.rate_limit.rps", 10)
	viper.SetDefault("admin.rate_limit.burst", 20)
	viper.SetDefault("admin.rate_limit.cleanup_interval", 300)
	viper.SetDefault("admin.rate_limit.max_age", 600)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func bindEnvVariables() {
	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST", "DB_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT", "DB_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER", "DB_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD", "DB_PASS")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME", "DB_NAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST", "REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT", "REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD", "REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB", "REDIS_DB")

	viper.BindEnv("queue.name", "QUEUE_NAME", "REDIS_QUEUE")
	viper.BindEnv("queue.kafka.topic", "QUEUE_KAFKA_TOPIC")
	viper.BindEnv("queue.kafka.group_id", "QUEUE_KAFKA_GROUP_ID")

	viper.BindEnv("dedup.ttl_seconds", "DEDUP_TTL_SECONDS")

	viper.BindEnv("relay.domain_limit.max_per_window", "RELAY_DOMAIN_LIMIT_MAX_PER_WINDOW", "DOMAIN_LIMIT")
	viper.BindEnv("relay.domain_limit.window_seconds", "RELAY_DOMAIN_LIMIT_WINDOW_SECONDS", "RATE_LIMIT_WINDOW_SECONDS")

	viper.BindEnv("cleaning.enabled", "CLEANING_ENABLED", "ENABLE_EMAIL_CLEANING")

	viper.BindEnv("completion.url", "COMPLETION_URL", "AI_API_URL")
	viper.BindEnv("completion.api_key", "COMPLETION_API_KEY", "AI_API_KEY")
	viper.BindEnv("completion.timeout_seconds", "COMPLETION_TIMEOUT_SECONDS", "AI_API_TIMEOUT")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
}

// applyEnvOverrides handles the list-shaped settings viper cannot bind:
// comma separated Kafka brokers, EMAIL<n>_* mailboxes and SMTP<n>_* relays.
func applyEnvOverrides(cfg *Config, environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	if brokers := env["QUEUE_KAFKA_BROKERS"]; brokers != "" {
		cfg.Queue.Kafka.Brokers = splitList(brokers)
	}

	if legacyTTL := env["REPLIED_TTL_DAYS"]; legacyTTL != "" && env["DEDUP_TTL_SECONDS"] == "" {
		days, err := strconv.Atoi(legacyTTL)
		if err != nil {
			return &ValidationError{Field: "REPLIED_TTL_DAYS", Message: err.Error()}
		}
		cfg.Dedup.TTLSeconds = days * 24 * 60 * 60
	}

	for _, n := range numberedPrefixes(env, mailboxEnvPattern) {
		prefix := "EMAIL" + n
		port, err := envInt(env, prefix+"_PORT", constants.DefaultIMAPPort)
		if err != nil {
			return err
		}
		cfg.Accounts = append(cfg.Accounts, AccountConfig{
			Name:     strings.ToLower(prefix),
			Host:     env[prefix+"_HOST"],
			Port:     port,
			Username: env[prefix+"_USER"],
			Password: env[prefix+"_PASS"],
		})
	}

	for _, n := range numberedPrefixes(env, relayEnvPattern) {
		prefix := "SMTP" + n
		port, err := envInt(env, prefix+"_PORT", constants.SMTPImplicitTLSPort)
		if err != nil {
			return err
		}
		user := env[prefix+"_USER"]
		if user == "" {
			user = env[prefix+"_EMAIL"]
		}
		cfg.Relay.Accounts = append(cfg.Relay.Accounts, RelayAccountConfig{
			Host:     env[prefix+"_HOST"],
			Port:     port,
			Username: user,
			Password: env[prefix+"_PASS"],
			MapTo:    splitList(env[prefix+"_MAP_TO"]),
		})
	}

	return nil
}

func numberedPrefixes(env map[string]string, pattern *regexp.Regexp) []string {
	var nums []int
	for k, v := range env {
		if v == "" {
			continue
		}
		if m := pattern.FindStringSubmatch(k); m != nil {
			n, _ := strconv.Atoi(m[1])
			nums = append(nums, n)
		}
	}
	sort.Ints(nums)

	out := make([]string, len(nums))
	for i, n := range nums {
		out[i] = strconv.Itoa(n)
	}
	return out
}

func envInt(env map[string]string, key string, def int) (int, error) {
	raw := strings.TrimSpace(env[key])
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ValidationError{Field: key, Message: fmt.Sprintf("not an integer: %q", raw)}
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

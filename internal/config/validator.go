package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"mailreply/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks everything that can be checked without dialing out.
// All violations are reported together.
func ValidateStatic(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(cfg.Server)...)
	errs = append(errs, validateQueue(cfg.Queue)...)
	errs = append(errs, validateDedup(cfg.Dedup)...)
	errs = append(errs, validateIdentity(cfg.Identity)...)
	errs = append(errs, validateAccounts(cfg.Accounts)...)
	errs = append(errs, validateRelay(cfg.Relay)...)
	errs = append(errs, validateReply(cfg.Reply)...)
	errs = append(errs, validateCleaning(cfg.Cleaning)...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func validateServer(cfg ServerConfig) []error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return []error{&ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}}
	}
	return nil
}

func validateQueue(cfg QueueConfig) []error {
	var errs []error

	switch cfg.Type {
	case constants.QueueTypeRedis:
		if cfg.Name == "" {
			errs = append(errs, &ValidationError{Field: "queue.name", Message: "queue name is required"})
		}
	case constants.QueueTypeKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			errs = append(errs, &ValidationError{Field: "queue.kafka.brokers", Message: "at least one broker is required"})
		}
		if cfg.Kafka.Topic == "" {
			errs = append(errs, &ValidationError{Field: "queue.kafka.topic", Message: "topic is required"})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "queue.type",
			Message: fmt.Sprintf("unsupported queue type %q (expected redis or kafka)", cfg.Type),
		})
	}

	if cfg.PopTimeoutSeconds <= 0 {
		errs = append(errs, &ValidationError{Field: "queue.pop_timeout_seconds", Message: "pop timeout must be positive"})
	}
	return errs
}

func validateDedup(cfg DedupConfig) []error {
	var errs []error
	if cfg.TTLSeconds <= 0 {
		errs = append(errs, &ValidationError{Field: "dedup.ttl_seconds", Message: "ttl must be positive"})
	}
	if cfg.SetKey == "" || cfg.KeyPrefix == "" {
		errs = append(errs, &ValidationError{Field: "dedup", Message: "set_key and key_prefix are required"})
	}
	if cfg.OnRedisError != constants.FallbackAllow && cfg.OnRedisError != constants.FallbackDeny {
		errs = append(errs, &ValidationError{
			Field:   "dedup.on_redis_error",
			Message: fmt.Sprintf("must be %q or %q, got %q", constants.FallbackAllow, constants.FallbackDeny, cfg.OnRedisError),
		})
	}
	return errs
}

func validateIdentity(cfg IdentityConfig) []error {
	if cfg.AnchoredPrefix <= 0 || cfg.UnanchoredPrefix <= 0 {
		return []error{&ValidationError{Field: "identity", Message: "prefix lengths must be positive"}}
	}
	return nil
}

func validateAccounts(accounts []AccountConfig) []error {
	var errs []error
	seen := make(map[string]bool)
	for i, acc := range accounts {
		field := fmt.Sprintf("accounts[%d]", i)
		if acc.Host == "" || acc.Username == "" {
			errs = append(errs, &ValidationError{Field: field, Message: "host and username are required"})
		}
		if acc.Name != "" && seen[acc.Name] {
			errs = append(errs, &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate account name %q", acc.Name)})
		}
		seen[acc.Name] = true
	}
	return errs
}

func validateRelay(cfg RelayConfig) []error {
	var errs []error
	seen := make(map[string]bool)
	for i, acc := range cfg.Accounts {
		field := fmt.Sprintf("relay.accounts[%d]", i)
		if acc.Host == "" {
			errs = append(errs, &ValidationError{Field: field + ".host", Message: "host is required"})
		}
		if len(acc.MapTo) == 0 {
			errs = append(errs, &ValidationError{Field: field + ".map_to", Message: "at least one recipient address is required"})
		}
		for _, addr := range acc.MapTo {
			key := strings.ToLower(strings.TrimSpace(addr))
			if seen[key] {
				errs = append(errs, &ValidationError{Field: field + ".map_to", Message: fmt.Sprintf("%s is mapped twice", key)})
			}
			seen[key] = true
		}
	}
	if cfg.Default != nil && cfg.Default.Host == "" {
		errs = append(errs, &ValidationError{Field: "relay.default.host", Message: "host is required"})
	}
	return errs
}

func validateReply(cfg ReplyConfig) []error {
	var errs []error
	if cfg.MaxAttempts < 1 {
		errs = append(errs, &ValidationError{Field: "reply.max_attempts", Message: "must be at least 1"})
	}
	if cfg.Workers < 1 {
		errs = append(errs, &ValidationError{Field: "reply.workers", Message: "must be at least 1"})
	}
	if cfg.RetryIntervalSeconds < 0 {
		errs = append(errs, &ValidationError{Field: "reply.retry_interval_seconds", Message: "must not be negative"})
	}
	return errs
}

func validateCleaning(cfg CleaningConfig) []error {
	var errs []error
	for i, expr := range cfg.Separators {
		if _, err := regexp.Compile(expr); err != nil {
			errs = append(errs, &ValidationError{Field: fmt.Sprintf("cleaning.separators[%d]", i), Message: err.Error()})
		}
	}
	return errs
}

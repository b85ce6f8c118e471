// Package cache is the advisory dedup layer in front of the record store.
// Each replied identity is kept twice: as a member of one shared set whose
// TTL is refreshed on every write, and as its own key with its own TTL. A
// wholesale expiry of the set leaves the individual keys in place.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/logger"
	"mailreply/pkg/metrics"
)

type Service struct {
	repo      Repository
	setKey    string
	keyPrefix string
	ttl       time.Duration
	onError   string
	logger    logger.Logger
}

func NewService(repo Repository, cfg config.DedupConfig, log logger.Logger) *Service {
	s := &Service{
		repo:      repo,
		setKey:    cfg.SetKey,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL(),
		onError:   cfg.OnRedisError,
		logger:    log,
	}
	if s.setKey == "" {
		s.setKey = constants.DefaultRepliedSetKey
	}
	if s.keyPrefix == "" {
		s.keyPrefix = constants.CacheKeyPrefixReplied
	}
	if s.ttl <= 0 {
		s.ttl = constants.DefaultDedupTTL
	}
	if s.onError == "" {
		s.onError = constants.FallbackAllow
	}
	return s
}

func (s *Service) key(identity string) string {
	return s.keyPrefix + identity
}

// IsReplied reports whether either representation holds identity. When Redis
// fails and neither lookup said yes, the configured fallback decides; the
// returned error is non-nil only for a done context.
func (s *Service) IsReplied(ctx context.Context, identity string) (bool, error) {
	inSet, setErr := s.repo.IsSetMember(ctx, s.setKey, identity)
	if setErr == nil && inSet {
		metrics.DedupChecksTotal.WithLabelValues("replied").Inc()
		return true, nil
	}

	exists, keyErr := s.repo.KeyExists(ctx, s.key(identity))
	if keyErr == nil && exists {
		metrics.DedupChecksTotal.WithLabelValues("replied").Inc()
		return true, nil
	}

	if setErr == nil && keyErr == nil {
		metrics.DedupChecksTotal.WithLabelValues("not_replied").Inc()
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	metrics.DedupChecksTotal.WithLabelValues("error").Inc()
	err := errors.Join(setErr, keyErr)
	if s.onError == constants.FallbackDeny {
		metrics.FallbackUsageTotal.WithLabelValues("dedup_cache", "deny_on_error").Inc()
		s.logger.WarnwCtx(ctx, "Dedup cache unavailable, treating message as replied (fallback: deny)",
			"identity", identity, "error", err)
		return true, nil
	}

	metrics.FallbackUsageTotal.WithLabelValues("dedup_cache", "allow_on_error").Inc()
	s.logger.WarnwCtx(ctx, "Dedup cache unavailable, deferring to record store (fallback: allow)",
		"identity", identity, "error", err)
	return false, nil
}

// MarkReplied writes both representations. A failure of one does not stop
// the other.
func (s *Service) MarkReplied(ctx context.Context, identity string) error {
	setErr := s.repo.AddToSet(ctx, s.setKey, identity, s.ttl)
	recordWrite("set", setErr)

	keyErr := s.repo.SetKey(ctx, s.key(identity), s.ttl)
	recordWrite("key", keyErr)

	if err := errors.Join(setErr, keyErr); err != nil {
		return fmt.Errorf("failed to mark %s replied: %w", identity, err)
	}
	return nil
}

func recordWrite(representation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.DedupWritesTotal.WithLabelValues(representation, status).Inc()
}

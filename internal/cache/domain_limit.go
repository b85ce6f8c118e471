package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mailreply/internal/config"
	"mailreply/internal/constants"
)

// DomainLimiter counts outbound replies per recipient domain in a fixed
// window. The counter key is created with the window as its TTL, so the
// count resets when the first send of a window is that old.
type DomainLimiter struct {
	client redis.UniversalClient
	max    int64
	window time.Duration
	prefix string
}

func NewDomainLimiter(client redis.UniversalClient, cfg config.DomainLimitConfig) *DomainLimiter {
	window := cfg.Window()
	if window <= 0 {
		window = constants.DefaultDomainLimitWindow
	}
	return &DomainLimiter{
		client: client,
		max:    int64(cfg.MaxPerWindow),
		window: window,
		prefix: constants.CacheKeyPrefixDomainRate,
	}
}

func (l *DomainLimiter) Enabled() bool {
	return l.max > 0
}

// Allow counts one send to domain and reports whether it is still within
// the limit. A disabled limiter allows everything without touching Redis.
func (l *DomainLimiter) Allow(ctx context.Context, domain string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	key := l.prefix + strings.ToLower(domain)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis INCR %s failed: %w", key, err)
	}
	return incr.Val() <= l.max, nil
}

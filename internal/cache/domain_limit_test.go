package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/config"
	"mailreply/internal/testinfra"
)

func TestDomainLimiter_Disabled(t *testing.T) {
	// a nil client would panic if the disabled limiter reached Redis
	l := NewDomainLimiter(nil, config.DomainLimitConfig{})
	assert.False(t, l.Enabled())
	assert.Equal(t, time.Hour, l.window)

	ok, err := l.Allow(context.Background(), "example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDomainLimiter_CountsPerDomainWithinWindow(t *testing.T) {
	client := testinfra.Redis(t)
	ctx := context.Background()
	l := NewDomainLimiter(client, config.DomainLimitConfig{MaxPerWindow: 2, WindowSeconds: 600})

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "Example.com")
		require.NoError(t, err)
		assert.True(t, ok, "send %d", i+1)
	}
	ok, err := l.Allow(ctx, "example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "other.org")
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := client.TTL(ctx, "domain_rate:example.com").Result()
	require.NoError(t, err)
	assert.InDelta(t, (10 * time.Minute).Seconds(), ttl.Seconds(), 5)
}

func TestDomainLimiter_WindowResets(t *testing.T) {
	client := testinfra.Redis(t)
	ctx := context.Background()
	l := NewDomainLimiter(client, config.DomainLimitConfig{MaxPerWindow: 1, WindowSeconds: 600})

	ok, err := l.Allow(ctx, "example.com")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.Allow(ctx, "example.com")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, client.PExpire(ctx, "domain_rate:example.com", 200*time.Millisecond).Err())
	time.Sleep(500 * time.Millisecond)

	ok, err = l.Allow(ctx, "example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/logger"
	"mailreply/internal/testinfra"
)

func TestRedisCache_DualRepresentationIndependence(t *testing.T) {
	client := testinfra.Redis(t)
	ctx := context.Background()
	svc := NewService(NewRepository(client), testDedupConfig("allow"), logger.NopLogger())

	require.NoError(t, svc.MarkReplied(ctx, "id-set-expires"))
	require.NoError(t, svc.MarkReplied(ctx, "id-key-expires"))

	ttl, err := client.TTL(ctx, "replied:id-set-expires").Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)

	// the whole set expires: individual keys survive
	require.NoError(t, client.PExpire(ctx, "replied_emails_set", 200*time.Millisecond).Err())
	time.Sleep(500 * time.Millisecond)

	exists, err := client.Exists(ctx, "replied_emails_set").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	replied, err := svc.IsReplied(ctx, "id-set-expires")
	require.NoError(t, err)
	assert.True(t, replied)

	// an individual key expires: set membership survives
	require.NoError(t, svc.MarkReplied(ctx, "id-key-expires"))
	require.NoError(t, client.PExpire(ctx, "replied:id-key-expires", 200*time.Millisecond).Err())
	time.Sleep(500 * time.Millisecond)

	exists, err = client.Exists(ctx, "replied:id-key-expires").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	replied, err = svc.IsReplied(ctx, "id-key-expires")
	require.NoError(t, err)
	assert.True(t, replied)

	replied, err = svc.IsReplied(ctx, "id-never-replied")
	require.NoError(t, err)
	assert.False(t, replied)
}

func TestRedisRepository_SetTTLRefreshedOnWrite(t *testing.T) {
	client := testinfra.Redis(t)
	ctx := context.Background()
	repo := NewRepository(client)

	require.NoError(t, repo.AddToSet(ctx, "s", "a", time.Minute))
	require.NoError(t, repo.AddToSet(ctx, "s", "b", time.Hour))

	ttl, err := client.TTL(ctx, "s").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	ok, err := repo.IsSetMember(ctx, "s", "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

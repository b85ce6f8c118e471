package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/config"
	"mailreply/internal/logger"
)

type fakeRepository struct {
	mu     sync.Mutex
	sets   map[string]map[string]bool
	keys   map[string]time.Duration
	setErr error
	keyErr error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{sets: map[string]map[string]bool{}, keys: map[string]time.Duration{}}
}

func (f *fakeRepository) AddToSet(_ context.Context, setKey, member string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	if f.sets[setKey] == nil {
		f.sets[setKey] = map[string]bool{}
	}
	f.sets[setKey][member] = true
	return nil
}

func (f *fakeRepository) IsSetMember(_ context.Context, setKey, member string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	return f.sets[setKey][member], nil
}

func (f *fakeRepository) SetKey(_ context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keyErr != nil {
		return f.keyErr
	}
	f.keys[key] = ttl
	return nil
}

func (f *fakeRepository) KeyExists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keyErr != nil {
		return false, f.keyErr
	}
	_, ok := f.keys[key]
	return ok, nil
}

func testDedupConfig(onError string) config.DedupConfig {
	return config.DedupConfig{
		SetKey:       "replied_emails_set",
		KeyPrefix:    "replied:",
		TTLSeconds:   3600,
		OnRedisError: onError,
	}
}

func TestService_MarkAndCheck(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, testDedupConfig("allow"), logger.NopLogger())
	ctx := context.Background()

	replied, err := svc.IsReplied(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, replied)

	require.NoError(t, svc.MarkReplied(ctx, "id-1"))
	assert.True(t, repo.sets["replied_emails_set"]["id-1"])
	assert.Equal(t, time.Hour, repo.keys["replied:id-1"])

	replied, err = svc.IsReplied(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, replied)
}

func TestService_EitherRepresentationIsEnough(t *testing.T) {
	ctx := context.Background()

	onlyKey := newFakeRepository()
	onlyKey.keys["replied:id-1"] = time.Hour
	replied, err := NewService(onlyKey, testDedupConfig("allow"), logger.NopLogger()).IsReplied(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, replied)

	onlySet := newFakeRepository()
	onlySet.sets["replied_emails_set"] = map[string]bool{"id-1": true}
	replied, err = NewService(onlySet, testDedupConfig("allow"), logger.NopLogger()).IsReplied(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, replied)
}

func TestService_FallbackOnRedisError(t *testing.T) {
	ctx := context.Background()
	down := errors.New("connection refused")

	repo := newFakeRepository()
	repo.setErr, repo.keyErr = down, down

	replied, err := NewService(repo, testDedupConfig("allow"), logger.NopLogger()).IsReplied(ctx, "id-1")
	require.NoError(t, err)
	assert.False(t, replied)

	replied, err = NewService(repo, testDedupConfig("deny"), logger.NopLogger()).IsReplied(ctx, "id-1")
	require.NoError(t, err)
	assert.True(t, replied)
}

func TestService_HalfDownStillAnswers(t *testing.T) {
	repo := newFakeRepository()
	repo.keys["replied:id-1"] = time.Hour
	repo.setErr = errors.New("set shard down")

	replied, err := NewService(repo, testDedupConfig("allow"), logger.NopLogger()).IsReplied(context.Background(), "id-1")
	require.NoError(t, err)
	assert.True(t, replied)
}

func TestService_MarkRepliedWritesKeyWhenSetFails(t *testing.T) {
	repo := newFakeRepository()
	repo.setErr = errors.New("set shard down")
	svc := NewService(repo, testDedupConfig("allow"), logger.NopLogger())

	err := svc.MarkReplied(context.Background(), "id-1")
	require.Error(t, err)
	assert.Contains(t, repo.keys, "replied:id-1")
}

func TestService_Defaults(t *testing.T) {
	svc := NewService(newFakeRepository(), config.DedupConfig{}, logger.NopLogger())

	assert.Equal(t, "replied_emails_set", svc.setKey)
	assert.Equal(t, "replied:", svc.keyPrefix)
	assert.Equal(t, 30*24*time.Hour, svc.ttl)
	assert.Equal(t, "allow", svc.onError)
}

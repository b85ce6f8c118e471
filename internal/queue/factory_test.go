package queue

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/logger"
)

func TestNewConsumers_KafkaReaderPerWorker(t *testing.T) {
	cfg := config.QueueConfig{
		Type:  constants.QueueTypeKafka,
		Kafka: config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "tasks", GroupID: "reply"},
	}

	consumers, err := NewConsumers(cfg, nil, logger.NopLogger(), 3)
	require.NoError(t, err)
	require.Len(t, consumers, 3)
	t.Cleanup(func() {
		for _, c := range consumers {
			_ = c.Close()
		}
	})

	readers := map[interface{}]bool{}
	for _, c := range consumers {
		kc, ok := c.(*KafkaConsumer)
		require.True(t, ok)
		readers[kc.reader] = true
	}
	assert.Len(t, readers, 3)
}

func TestNewConsumers_RedisShared(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })

	consumers, err := NewConsumers(config.QueueConfig{Type: constants.QueueTypeRedis}, client, logger.NopLogger(), 2)
	require.NoError(t, err)
	require.Len(t, consumers, 2)
	assert.Same(t, consumers[0], consumers[1])

	consumers, err = NewConsumers(config.QueueConfig{}, client, logger.NopLogger(), 0)
	require.NoError(t, err)
	assert.Len(t, consumers, 1)

	_, err = NewConsumers(config.QueueConfig{}, nil, logger.NopLogger(), 2)
	assert.Error(t, err)
}

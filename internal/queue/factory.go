package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/logger"
)

// NewProducer builds the producer for cfg.Type. The Redis client is only
// used by the redis backend and may be nil otherwise.
func NewProducer(cfg config.QueueConfig, client redis.UniversalClient) (Producer, error) {
	switch cfg.Type {
	case "", constants.QueueTypeRedis:
		if client == nil {
			return nil, fmt.Errorf("redis queue requires a redis client")
		}
		return NewRedisQueue(client, cfg.Name), nil
	case constants.QueueTypeKafka:
		return NewKafkaProducer(cfg.Kafka), nil
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}

func NewConsumer(cfg config.QueueConfig, client redis.UniversalClient, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case "", constants.QueueTypeRedis:
		if client == nil {
			return nil, fmt.Errorf("redis queue requires a redis client")
		}
		return NewRedisQueue(client, cfg.Name), nil
	case constants.QueueTypeKafka:
		return NewKafkaConsumer(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}

// NewConsumers builds one consumer per worker. Kafka workers each get their
// own reader in the group, so a worker only ever commits offsets it has
// finished, in order, on the partitions assigned to it. Redis workers share
// one queue since BLPOP hands each task to exactly one caller.
func NewConsumers(cfg config.QueueConfig, client redis.UniversalClient, log logger.Logger, n int) ([]Consumer, error) {
	if n <= 0 {
		n = 1
	}
	if cfg.Type != constants.QueueTypeKafka {
		shared, err := NewConsumer(cfg, client, log)
		if err != nil {
			return nil, err
		}
		consumers := make([]Consumer, n)
		for i := range consumers {
			consumers[i] = shared
		}
		return consumers, nil
	}

	consumers := make([]Consumer, 0, n)
	for i := 0; i < n; i++ {
		consumers = append(consumers, NewKafkaConsumer(cfg.Kafka, log))
	}
	return consumers, nil
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mailreply/internal/constants"
	"mailreply/pkg/metrics"
)

// RedisQueue is a FIFO list: RPUSH on the producer side, BLPOP on the
// consumer side. BLPOP removes the task, so Ack does nothing and a task lost
// mid-flight is recovered by ingestion re-discovering the Pending record.
type RedisQueue struct {
	client redis.UniversalClient
	name   string
}

func NewRedisQueue(client redis.UniversalClient, name string) *RedisQueue {
	if name == "" {
		name = constants.DefaultQueueName
	}
	return &RedisQueue{client: client, name: name}
}

func (q *RedisQueue) Push(ctx context.Context, task Task) error {
	if err := q.client.RPush(ctx, q.name, task.Encode()).Err(); err != nil {
		metrics.IncQueueOperation(constants.QueueTypeRedis, "push", "error")
		return fmt.Errorf("redis RPUSH %s failed: %w", q.name, err)
	}
	metrics.IncQueueOperation(constants.QueueTypeRedis, "push", "ok")
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context, wait time.Duration) (*Delivery, error) {
	if wait <= 0 {
		wait = constants.DefaultQueuePopTimeout
	}

	res, err := q.client.BLPop(ctx, wait, q.name).Result()
	if errors.Is(err, redis.Nil) {
		metrics.IncQueueOperation(constants.QueueTypeRedis, "pop", "empty")
		return nil, ErrEmpty
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.IncQueueOperation(constants.QueueTypeRedis, "pop", "error")
		return nil, fmt.Errorf("redis BLPOP %s failed: %w", q.name, err)
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		metrics.IncQueueOperation(constants.QueueTypeRedis, "pop", "error")
		return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(res))
	}

	task, err := ParseTask(res[1])
	if err != nil {
		metrics.IncQueueOperation(constants.QueueTypeRedis, "pop", "invalid")
		return nil, err
	}
	metrics.IncQueueOperation(constants.QueueTypeRedis, "pop", "ok")
	return &Delivery{Task: task, Ctx: ctx}, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Close leaves the shared client open; its owner closes it.
func (q *RedisQueue) Close() error {
	return nil
}

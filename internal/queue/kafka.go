package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/logger"
	"mailreply/pkg/metrics"
	"mailreply/pkg/tracing"
)

type KafkaProducer struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaProducer(cfg config.KafkaConfig) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  kafkaTopic(cfg),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w, topic: w.Topic}
}

func (p *KafkaProducer) Push(ctx context.Context, task Task) error {
	payload := []byte(task.Encode())
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     payload,
		Value:   payload,
		Headers: tracing.InjectTraceContext(ctx, nil),
		Time:    time.Now(),
	})
	if err != nil {
		metrics.IncQueueOperation(constants.QueueTypeKafka, "push", "error")
		return fmt.Errorf("failed to write task to kafka topic %s: %w", p.topic, err)
	}
	metrics.IncQueueOperation(constants.QueueTypeKafka, "push", "ok")
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads tasks in a consumer group. Offsets are committed on
// Ack, so a task whose cycle never finished is redelivered.
type KafkaConsumer struct {
	reader *kafka.Reader
	logger logger.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, log logger.Logger) *KafkaConsumer {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "reply-service"
	}

	log.Infow("Creating Kafka reader",
		"topic", kafkaTopic(cfg),
		"brokers", cfg.Brokers,
		"group_id", groupID,
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     groupID,
		Topic:       kafkaTopic(cfg),
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return &KafkaConsumer{reader: reader, logger: log}
}

func (c *KafkaConsumer) Pop(ctx context.Context, wait time.Duration) (*Delivery, error) {
	if wait <= 0 {
		wait = constants.DefaultQueuePopTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	m, err := c.reader.FetchMessage(fetchCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.IncQueueOperation(constants.QueueTypeKafka, "pop", "empty")
			return nil, ErrEmpty
		}
		metrics.IncQueueOperation(constants.QueueTypeKafka, "pop", "error")
		return nil, fmt.Errorf("failed to fetch kafka task: %w", err)
	}

	task, err := ParseTask(string(m.Value))
	if err != nil {
		metrics.IncQueueOperation(constants.QueueTypeKafka, "pop", "invalid")
		c.logger.ErrorwCtx(ctx, "Dropping malformed task",
			"error", err,
			"partition", m.Partition,
			"offset", m.Offset,
		)
		// commit so one bad payload does not block the partition
		if commitErr := c.reader.CommitMessages(ctx, m); commitErr != nil {
			c.logger.ErrorwCtx(ctx, "Failed to commit malformed task", "error", commitErr)
		}
		return nil, err
	}

	metrics.IncQueueOperation(constants.QueueTypeKafka, "pop", "ok")
	return &Delivery{
		Task: task,
		Ctx:  tracing.ExtractTraceContext(ctx, m.Headers),
		ack: func(ackCtx context.Context) error {
			if err := c.reader.CommitMessages(ackCtx, m); err != nil {
				return fmt.Errorf("failed to commit kafka offset %d: %w", m.Offset, err)
			}
			return nil
		},
	}, nil
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

func kafkaTopic(cfg config.KafkaConfig) string {
	if cfg.Topic != "" {
		return cfg.Topic
	}
	return constants.DefaultQueueName
}

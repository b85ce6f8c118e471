// Package admin is the operator API over the record store. Requeue is the
// manual path for tasks the reply governor abandoned.
package admin

import (
	"context"
	"strings"

	"mailreply/internal/constants"
	"mailreply/internal/logger"
	"mailreply/internal/queue"
	"mailreply/internal/store"
	pkgerrors "mailreply/pkg/errors"
	"mailreply/pkg/logging"
	"mailreply/pkg/metrics"
)

type Service interface {
	ListEmails(ctx context.Context, state string, limit, offset int) ([]store.Record, error)
	GetEmail(ctx context.Context, identity string) (*store.Record, error)
	GetSender(ctx context.Context, address string) (*store.Sender, error)
	Stats(ctx context.Context) (*Stats, error)
	Requeue(ctx context.Context, identity string) error
}

// QueueDepth is implemented by queue backends that can report their length.
type QueueDepth interface {
	Len(ctx context.Context) (int64, error)
}

type Stats struct {
	Pending    int64  `json:"pending"`
	Processed  int64  `json:"processed"`
	QueueDepth *int64 `json:"queue_depth,omitempty"`
}

type service struct {
	repo     store.Repository
	producer queue.Producer
	depth    QueueDepth
	logger   logger.Logger
}

type ServiceOption func(*service)

func WithQueueDepth(depth QueueDepth) ServiceOption {
	return func(s *service) {
		s.depth = depth
	}
}

func NewService(repo store.Repository, producer queue.Producer, log logger.Logger, opts ...ServiceOption) Service {
	s := &service{repo: repo, producer: producer, logger: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) ListEmails(ctx context.Context, state string, limit, offset int) ([]store.Record, error) {
	st := store.State(strings.ToLower(strings.TrimSpace(state)))
	if st != "" && !st.Valid() {
		return nil, pkgerrors.ErrValidation.WithMessage("unknown state %q", state)
	}
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	records, err := s.repo.ListByState(ctx, st, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return records, nil
}

func (s *service) GetEmail(ctx context.Context, identity string) (*store.Record, error) {
	rec, err := s.repo.Get(ctx, identity)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return rec, nil
}

func (s *service) GetSender(ctx context.Context, address string) (*store.Sender, error) {
	sender, err := s.repo.GetSender(ctx, strings.ToLower(strings.TrimSpace(address)))
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return sender, nil
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.repo.CountByState(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	stats := &Stats{
		Pending:   counts[store.StatePending],
		Processed: counts[store.StateProcessed],
	}
	if s.depth != nil {
		if n, err := s.depth.Len(ctx); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to read queue depth", "error", err)
		} else {
			stats.QueueDepth = &n
		}
	}
	return stats, nil
}

// Requeue pushes a Pending record back onto the task queue. Processed
// records are never requeued.
func (s *service) Requeue(ctx context.Context, identity string) error {
	ctx = logging.WithIdentity(ctx, identity)
	rec, err := s.GetEmail(ctx, identity)
	if err != nil {
		metrics.AdminRequeuesTotal.WithLabelValues("error").Inc()
		return err
	}
	if rec.State == store.StateProcessed {
		metrics.AdminRequeuesTotal.WithLabelValues("conflict").Inc()
		return pkgerrors.ErrConflict.WithMessage("email %s is already processed", identity)
	}

	if err := s.producer.Push(ctx, queue.IdentityTask(rec.Identity)); err != nil {
		metrics.AdminRequeuesTotal.WithLabelValues("error").Inc()
		return pkgerrors.ErrServiceUnavailable.WithMessage("enqueue failed").WithCause(err)
	}

	metrics.AdminRequeuesTotal.WithLabelValues("ok").Inc()
	s.logger.InfowCtx(ctx, "Email requeued by operator")
	return nil
}

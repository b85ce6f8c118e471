// Package ingestion turns mailbox contents into Pending records and queue
// tasks.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/identity"
	"mailreply/internal/logger"
	"mailreply/internal/mailbox"
	"mailreply/internal/queue"
	"mailreply/internal/store"
	"mailreply/internal/suppression"
	"mailreply/pkg/cel"
	pkgerrors "mailreply/pkg/errors"
	"mailreply/pkg/logging"
	"mailreply/pkg/metrics"
	"mailreply/pkg/tracing"
)

type Outcome string

const (
	OutcomeCreated    Outcome = "created"
	OutcomeRequeued   Outcome = "requeued"
	OutcomeCached     Outcome = "skipped_cached"
	OutcomeProcessed  Outcome = "skipped_processed"
	OutcomeRaced      Outcome = "skipped_race"
	OutcomeInvalid    Outcome = "skipped_invalid"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeFailed     Outcome = "failed"
)

// DedupCache is the read side of the replied cache.
type DedupCache interface {
	IsReplied(ctx context.Context, identity string) (bool, error)
}

// Report summarises one pass over one account.
type Report struct {
	Account    string
	Since      time.Time
	Fetched    int
	Skipped    int
	Created    int
	Requeued   int
	Suppressed int
	Failed     int
	Duration   time.Duration
	Err        error
}

func (r Report) status() string {
	switch {
	case r.Err != nil:
		return "error"
	case r.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

type Service struct {
	source   mailbox.Source
	store    store.Repository
	cache    DedupCache
	producer queue.Producer
	suppress suppression.Evaluator
	resolver *identity.Resolver
	accounts []mailbox.Account

	lookback    time.Duration
	overlap     time.Duration
	maxLookback time.Duration
	interval    time.Duration

	logger logger.Logger
	now    func() time.Time
}

func NewService(
	cfg *config.Config,
	source mailbox.Source,
	repo store.Repository,
	dedup DedupCache,
	producer queue.Producer,
	suppress suppression.Evaluator,
	log logger.Logger,
) *Service {
	accounts := make([]mailbox.Account, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts = append(accounts, mailbox.AccountFromConfig(a))
	}
	if suppress == nil {
		suppress = suppression.None{}
	}

	s := &Service{
		source:      source,
		store:       repo,
		cache:       dedup,
		producer:    producer,
		suppress:    suppress,
		resolver:    identity.NewResolver(cfg.Identity),
		accounts:    accounts,
		lookback:    cfg.Ingestion.Lookback(),
		overlap:     cfg.Ingestion.Overlap(),
		maxLookback: cfg.Ingestion.MaxLookback(),
		interval:    cfg.Ingestion.Interval(),
		logger:      log,
		now:         time.Now,
	}
	if s.lookback <= 0 {
		s.lookback = constants.DefaultLookback
	}
	if s.overlap < 0 {
		s.overlap = 0
	}
	if s.maxLookback <= 0 {
		s.maxLookback = constants.DefaultMaxLookback
	}
	if s.interval <= 0 {
		s.interval = constants.DefaultIngestInterval
	}
	return s
}

func (s *Service) Accounts() []mailbox.Account {
	return s.accounts
}

// Run ingests every account immediately and then once per interval until ctx
// is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.IngestAll(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// IngestAll runs one pass per account. A failing account is logged and
// counted; it never stops the others.
func (s *Service) IngestAll(ctx context.Context) []Report {
	reports := make([]Report, 0, len(s.accounts))
	for _, account := range s.accounts {
		if ctx.Err() != nil {
			break
		}
		report, err := s.Ingest(ctx, account)
		if err != nil {
			metrics.IngestAccountFailuresTotal.WithLabelValues(account.Name).Inc()
			s.logger.ErrorwCtx(logging.WithAccount(ctx, account.Name), "Ingestion pass failed",
				"error", err,
			)
		}
		reports = append(reports, report)
	}
	return reports
}

// Ingest runs one pass over account. Messages are handled newest first; a
// per-message failure is counted and the pass continues.
func (s *Service) Ingest(ctx context.Context, account mailbox.Account) (Report, error) {
	ctx = logging.WithAccount(ctx, account.Name)
	ctx, span := tracing.StartAccountSpan(ctx, "ingest.pass", account.Name)
	start := s.now()
	report := Report{Account: account.Name}
	defer func() {
		report.Duration = s.now().Sub(start)
		metrics.ObserveIngestPass(account.Name, report.Duration)
		tracing.End(span, report.status(), report.Err)
	}()

	report.Since = s.window(ctx, account.Name)

	messages, err := s.source.ListSince(ctx, account, report.Since)
	if err != nil {
		report.Err = err
		return report, fmt.Errorf("listing %s: %w", account.Name, err)
	}
	report.Fetched = len(messages)

	s.logger.InfowCtx(ctx, "Fetched messages",
		"count", len(messages),
		"since", report.Since,
	)

	var newest time.Time
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Date.After(newest) {
			newest = msg.Date
		}

		outcome, err := s.ingestMessage(ctx, account, msg)
		metrics.IngestMessagesTotal.WithLabelValues(account.Name, string(outcome)).Inc()

		switch outcome {
		case OutcomeCreated:
			report.Created++
		case OutcomeRequeued:
			report.Requeued++
		case OutcomeSuppressed:
			report.Suppressed++
		case OutcomeFailed:
			report.Failed++
			s.logger.ErrorwCtx(ctx, "Failed to ingest message",
				"uid", msg.UID,
				"message_id", msg.MessageID,
				"error", err,
			)
		default:
			report.Skipped++
		}
	}

	// a failed message must be seen again, so the mark only moves on a clean pass
	if report.Failed == 0 && !newest.IsZero() {
		if err := s.store.SaveCursor(ctx, account.Name, newest); err != nil {
			s.logger.WarnwCtx(ctx, "Failed to save mailbox cursor", "error", err)
		}
	}

	s.logger.InfowCtx(ctx, "Ingestion pass complete",
		"fetched", report.Fetched,
		"created", report.Created,
		"requeued", report.Requeued,
		"skipped", report.Skipped,
		"suppressed", report.Suppressed,
		"failed", report.Failed,
	)
	return report, nil
}

// window returns the search start: the trailing lookback, widened back to
// the saved cursor minus overlap, but never past the max lookback.
func (s *Service) window(ctx context.Context, account string) time.Time {
	now := s.now()
	since := now.Add(-s.lookback)

	cursor, ok, err := s.store.GetCursor(ctx, account)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Failed to read mailbox cursor, using lookback only", "error", err)
	} else if ok {
		if c := cursor.Add(-s.overlap); c.Before(since) {
			since = c
		}
	}

	if floor := now.Add(-s.maxLookback); since.Before(floor) {
		since = floor
	}
	return since
}

func (s *Service) ingestMessage(ctx context.Context, account mailbox.Account, msg mailbox.Message) (Outcome, error) {
	sender := identity.Normalize(msg.Sender)
	if sender == "" {
		s.logger.WarnwCtx(ctx, "Message has no sender address, skipping", "uid", msg.UID)
		return OutcomeInvalid, nil
	}

	id := s.resolver.Resolve(msg.MessageID, sender, msg.Content)
	ctx = logging.WithIdentity(ctx, id)

	rule, suppressed, err := s.suppress.Match(ctx, cel.Mail{
		Sender:      sender,
		Recipient:   identity.Normalize(msg.Recipient),
		Subject:     msg.Subject,
		Content:     msg.Content,
		Account:     account.Name,
		MessageID:   msg.MessageID,
		Attachments: len(msg.Attachments),
	})
	if err != nil {
		s.logger.WarnwCtx(ctx, "Suppression rule failed to evaluate, not suppressing",
			"rule", rule,
			"error", err,
		)
	} else if suppressed {
		s.logger.InfowCtx(ctx, "Message suppressed", "rule", rule, "sender", sender)
		return OutcomeSuppressed, nil
	}

	replied, err := s.cache.IsReplied(ctx, id)
	if err != nil {
		return OutcomeFailed, err
	}
	if replied {
		s.logger.DebugwCtx(ctx, "Already replied, skipping")
		return OutcomeCached, nil
	}

	existing, err := s.store.FindForIngest(ctx, id, msg.MessageID)
	switch {
	case err == nil && existing.State == store.StatePending:
		if err := s.producer.Push(ctx, queue.IdentityTask(existing.Identity)); err != nil {
			return OutcomeFailed, fmt.Errorf("re-enqueue %s: %w", existing.Identity, err)
		}
		s.logger.InfowCtx(ctx, "Pending message re-enqueued", "stored_identity", existing.Identity)
		return OutcomeRequeued, nil
	case err == nil:
		s.logger.DebugwCtx(ctx, "Already processed, skipping")
		return OutcomeProcessed, nil
	case !pkgerrors.IsNotFound(err):
		return OutcomeFailed, err
	}

	rec := &store.Record{
		Identity:          id,
		ExternalMessageID: msg.MessageID,
		Account:           account.Name,
		Sender:            sender,
		Recipient:         identity.Normalize(msg.Recipient),
		Subject:           msg.Subject,
		Content:           msg.Content,
		Attachments:       msg.Attachments,
		ReceivedAt:        msg.Date,
	}
	if err := s.store.CreatePending(ctx, rec); err != nil {
		if pkgerrors.IsConflict(err) {
			// another pass inserted it first and owns the enqueue
			return OutcomeRaced, nil
		}
		return OutcomeFailed, err
	}

	if err := s.producer.Push(ctx, queue.IdentityTask(id)); err != nil {
		// left Pending; the next pass re-discovers and re-enqueues it
		return OutcomeFailed, fmt.Errorf("enqueue %s: %w", id, err)
	}

	s.logger.InfowCtx(ctx, "New message stored and enqueued",
		"sender", sender,
		"attachments", len(rec.Attachments),
	)
	return OutcomeCreated, nil
}

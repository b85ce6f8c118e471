// Package reply consumes queued identities and drives each one to a sent
// reply and a Processed record.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailreply/internal/completion"
	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/identity"
	"mailreply/internal/logger"
	"mailreply/internal/queue"
	"mailreply/internal/relay"
	"mailreply/internal/store"
	pkgerrors "mailreply/pkg/errors"
	"mailreply/pkg/logging"
	"mailreply/pkg/metrics"
	"mailreply/pkg/retry"
	"mailreply/pkg/tracing"
)

type Outcome string

const (
	OutcomeReplied          Outcome = "replied"
	OutcomeCached           Outcome = "skipped_cached"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeDiscarded        Outcome = "discarded"
	OutcomeAbandoned        Outcome = "abandoned"
	OutcomeFatal            Outcome = "fatal_stop"
	OutcomeFailed           Outcome = "failed"
)

// DedupCache is the replied cache as the consumer uses it.
type DedupCache interface {
	IsReplied(ctx context.Context, identity string) (bool, error)
	MarkReplied(ctx context.Context, identity string) error
}

// Directory resolves the relay account that answers for a recipient.
type Directory interface {
	Lookup(recipient string) (relay.Account, bool)
}

type Cleaner interface {
	CleanMessage(content string) string
}

// DomainLimiter caps outbound replies per recipient domain.
type DomainLimiter interface {
	Allow(ctx context.Context, domain string) (bool, error)
}

type Service struct {
	consumer   queue.Consumer
	store      store.Repository
	cache      DedupCache
	completer  completion.Completer
	sender     relay.Sender
	relays     Directory
	cleaner    Cleaner
	limiter    DomainLimiter
	governor   Governor
	subject    string
	popTimeout time.Duration
	logger     logger.Logger
	now        func() time.Time
}

type Deps struct {
	Consumer  queue.Consumer
	Store     store.Repository
	Cache     DedupCache
	Completer completion.Completer
	Sender    relay.Sender
	Relays    Directory
	Cleaner   Cleaner
	Limiter   DomainLimiter
}

func NewService(cfg *config.Config, deps Deps, log logger.Logger) *Service {
	maxAttempts := cfg.Reply.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultMaxAttempts
	}
	interval := cfg.Reply.RetryInterval()
	if interval <= 0 {
		interval = constants.DefaultRetryInterval
	}
	subject := cfg.Relay.Subject
	if subject == "" {
		subject = constants.DefaultReplySubject
	}
	popTimeout := cfg.Queue.PopTimeout()
	if popTimeout <= 0 {
		popTimeout = constants.DefaultQueuePopTimeout
	}

	return &Service{
		consumer:   deps.Consumer,
		store:      deps.Store,
		cache:      deps.Cache,
		completer:  deps.Completer,
		sender:     deps.Sender,
		relays:     deps.Relays,
		cleaner:    deps.Cleaner,
		limiter:    deps.Limiter,
		governor:   Governor{MaxAttempts: maxAttempts, Delay: retry.FixedDelay(interval)},
		subject:    subject,
		popTimeout: popTimeout,
		logger:     log,
		now:        time.Now,
	}
}

// WithDelay replaces the wait between attempts.
func (s *Service) WithDelay(d retry.Delay) *Service {
	s.governor.Delay = d
	return s
}

// Run pops one task at a time from the configured consumer until ctx is
// cancelled. Cancellation only stops the pulling; a task already popped
// finishes its whole cycle.
func (s *Service) Run(ctx context.Context) error {
	return s.RunConsumer(ctx, s.consumer)
}

// RunConsumer is Run over a worker's own consumer. A consumer must not be
// shared by workers when its Ack commits a position, as on Kafka.
func (s *Service) RunConsumer(ctx context.Context, consumer queue.Consumer) error {
	s.logger.InfowCtx(ctx, "Reply worker started", "pop_timeout", s.popTimeout)
	for {
		if ctx.Err() != nil {
			s.logger.InfowCtx(ctx, "Reply worker stopping")
			return nil
		}

		delivery, err := consumer.Pop(ctx, s.popTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.ErrorwCtx(ctx, "Failed to pop task", "error", err)
			_ = retry.Sleep(ctx, time.Second)
			continue
		}

		s.process(ctx, delivery)
	}
}

func (s *Service) process(ctx context.Context, d *queue.Delivery) {
	taskCtx := ctx
	if d.Ctx != nil {
		taskCtx = d.Ctx
	}
	taskCtx = context.WithoutCancel(taskCtx)

	if err := pkgerrors.Guard(func() { s.Handle(taskCtx, d.Task) }); err != nil {
		s.logger.ErrorwCtx(taskCtx, "Panic while handling task",
			"task", d.Task.String(),
			"error", err,
		)
	}
	if err := d.Ack(taskCtx); err != nil {
		s.logger.WarnwCtx(taskCtx, "Failed to acknowledge task", "task", d.Task.String(), "error", err)
	}
}

// Handle runs one task through the cache check, the record checks and the
// governed reply. It never returns an error; every failure ends in an
// Outcome.
func (s *Service) Handle(ctx context.Context, task queue.Task) Outcome {
	start := s.now()
	ctx, span := tracing.StartTaskSpan(ctx, "reply.handle", task.Identity)

	outcome := s.handle(ctx, task)

	var spanErr error
	if outcome == OutcomeAbandoned || outcome == OutcomeFatal || outcome == OutcomeFailed {
		spanErr = fmt.Errorf("reply task ended %s", outcome)
	}
	tracing.End(span, string(outcome), spanErr)
	metrics.ObserveReplyTask(string(outcome), s.now().Sub(start))
	return outcome
}

func (s *Service) handle(ctx context.Context, task queue.Task) Outcome {
	if task.Kind == queue.KindIdentity {
		ctx = logging.WithIdentity(ctx, task.Identity)
		if s.replied(ctx, task.Identity) {
			s.logger.InfowCtx(ctx, "Already replied, discarding task")
			return OutcomeCached
		}
	}

	rec, err := s.load(ctx, task)
	if pkgerrors.IsNotFound(err) {
		s.logger.WarnwCtx(ctx, "No record for task, discarding", "task", task.String())
		return OutcomeDiscarded
	}
	if err != nil {
		// left Pending; a later ingestion pass re-enqueues it
		s.logger.ErrorwCtx(ctx, "Failed to load record", "task", task.String(), "error", err)
		return OutcomeFailed
	}

	if task.Kind == queue.KindLegacyID {
		ctx = logging.WithIdentity(ctx, rec.Identity)
		if s.replied(ctx, rec.Identity) {
			s.logger.InfowCtx(ctx, "Already replied, discarding task")
			return OutcomeCached
		}
	}

	if rec.State == store.StateProcessed {
		s.logger.InfowCtx(ctx, "Record already processed, discarding task")
		return OutcomeAlreadyProcessed
	}

	recipient := identity.Normalize(rec.Recipient)
	account, ok := s.relays.Lookup(recipient)
	if !ok {
		s.logger.WarnwCtx(ctx, "No relay account for recipient, discarding task",
			"recipient", recipient,
			"error", pkgerrors.ErrDataIntegrity.WithMessage("no relay account for %s", recipient),
		)
		return OutcomeDiscarded
	}

	return s.reply(ctx, rec, account)
}

func (s *Service) replied(ctx context.Context, id string) bool {
	replied, err := s.cache.IsReplied(ctx, id)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Dedup cache check failed, relying on record state", "error", err)
		return false
	}
	return replied
}

func (s *Service) load(ctx context.Context, task queue.Task) (*store.Record, error) {
	if task.Kind == queue.KindLegacyID {
		return s.store.GetByLegacyID(ctx, task.LegacyID)
	}
	return s.store.Get(ctx, task.Identity)
}

// attemptState survives across the attempts of one task so a reply the
// relay already accepted is never composed or sent again; later attempts
// only retry the commit.
type attemptState struct {
	resp   *completion.Response
	sentAt time.Time
	lost   bool
}

func (s *Service) reply(ctx context.Context, rec *store.Record, account relay.Account) Outcome {
	started := s.now()
	st := &attemptState{}

	res := s.governor.Run(ctx, func(ctx context.Context, n int) error {
		return s.attempt(ctx, rec, account, st, started, n)
	})

	for _, t := range res.Transitions {
		if t.To == StateRetrying {
			s.logger.WarnwCtx(ctx, "Reply attempt failed, retrying",
				"attempt", t.Attempt,
				"error", t.Err,
			)
		}
	}

	switch res.State {
	case StateSucceeded:
	case StateFatalStop:
		s.logger.ErrorwCtx(ctx, "Reply stopped on fatal error, operator action needed",
			"attempts", res.Attempts,
			"relay_account", account.String(),
			"error", res.Err,
		)
		return OutcomeFatal
	default:
		s.logger.ErrorwCtx(ctx, "Reply abandoned, record stays pending",
			"attempts", res.Attempts,
			"sent", !st.sentAt.IsZero(),
			"error", res.Err,
		)
		return OutcomeAbandoned
	}

	if err := s.cache.MarkReplied(ctx, rec.Identity); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to publish replied identity to cache", "error", err)
	}

	if st.lost {
		s.logger.InfowCtx(ctx, "Another worker committed this record first")
		return OutcomeAlreadyProcessed
	}
	s.logger.InfowCtx(ctx, "Reply sent and recorded",
		"attempts", res.Attempts,
		"completion_id", st.resp.CompletionID,
		"duration_ms", s.now().Sub(started).Milliseconds(),
	)
	return OutcomeReplied
}

func (s *Service) attempt(ctx context.Context, rec *store.Record, account relay.Account, st *attemptState, started time.Time, n int) error {
	if st.sentAt.IsZero() {
		text := s.cleaner.CleanMessage(rec.Content)
		resp, err := s.completer.Complete(ctx, rec.Identity, text, rec.Attachments)
		if err != nil {
			return err
		}
		if err := s.checkDomainLimit(ctx, rec.Sender); err != nil {
			return err
		}

		err = s.sender.Send(ctx, account, relay.Message{
			To:        rec.Sender,
			Subject:   s.subject,
			Body:      resp.ResponseText,
			InReplyTo: rec.ExternalMessageID,
		})
		if err != nil {
			return err
		}
		st.resp = resp
		st.sentAt = s.now()
	} else {
		s.logger.DebugwCtx(ctx, "Reply already sent, retrying commit only", "attempt", n)
	}

	now := s.now()
	meta := &store.ReplyMetadata{
		ResponseText:     st.resp.ResponseText,
		UserText:         st.resp.UserText,
		Documents:        st.resp.RAGDocs,
		CompletionID:     st.resp.CompletionID,
		Model:            st.resp.Model,
		PromptTokens:     st.resp.PromptTokens,
		CompletionTokens: st.resp.CompletionTokens,
		TotalTokens:      st.resp.TotalTokens,
		ProcessingTime:   now.Sub(started),
		SentAt:           st.sentAt,
		ProcessedAt:      now,
	}

	err := s.store.MarkProcessed(ctx, rec.Identity, meta)
	if errors.Is(err, store.ErrAlreadyProcessed) {
		st.lost = true
		return nil
	}
	if pkgerrors.IsNotFound(err) {
		return pkgerrors.ErrDataIntegrity.WithCause(err)
	}
	return err
}

// checkDomainLimit turns an exceeded per-domain limit into a transient
// error so the governor waits and tries again. A limiter failure lets the
// send through.
func (s *Service) checkDomainLimit(ctx context.Context, to string) error {
	if s.limiter == nil {
		return nil
	}
	domain := recipientDomain(to)
	if domain == "" {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, domain)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Domain rate limit check failed, sending anyway", "domain", domain, "error", err)
		return nil
	}
	if !ok {
		return pkgerrors.ErrServiceUnavailable.WithMessage("reply rate limit reached for domain %s", domain)
	}
	return nil
}

func recipientDomain(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(strings.Trim(addr[i+1:], "> "))
}

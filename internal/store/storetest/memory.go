// Package storetest provides an in-memory store.Repository with the same
// conflict and conditional-update behaviour as the Postgres one.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"mailreply/internal/store"
	pkgerrors "mailreply/pkg/errors"
)

type Memory struct {
	mu      sync.Mutex
	nextID  int64
	records map[string]*store.Record
	senders map[string]*store.Sender
	cursors map[string]time.Time

	// Fail, when set, is returned by the next call to the named method
	// ("CreatePending", "MarkProcessed", ...) and then cleared.
	Fail map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*store.Record),
		senders: make(map[string]*store.Sender),
		cursors: make(map[string]time.Time),
		Fail:    make(map[string]error),
	}
}

func (m *Memory) failure(method string) error {
	if err, ok := m.Fail[method]; ok {
		delete(m.Fail, method)
		return err
	}
	return nil
}

func (m *Memory) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail[method] = err
}

func clone(rec *store.Record) *store.Record {
	cp := *rec
	cp.Attachments = append([]store.Attachment(nil), rec.Attachments...)
	if rec.Reply != nil {
		reply := *rec.Reply
		cp.Reply = &reply
	}
	return &cp
}

func (m *Memory) FindForIngest(_ context.Context, identity, externalID string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("FindForIngest"); err != nil {
		return nil, err
	}
	if rec, ok := m.records[identity]; ok {
		return clone(rec), nil
	}
	if externalID != "" {
		for _, rec := range m.records {
			if rec.ExternalMessageID == externalID {
				return clone(rec), nil
			}
		}
	}
	return nil, pkgerrors.ErrNotFound.WithMessage("email %s not found", identity)
}

func (m *Memory) Get(_ context.Context, identity string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("Get"); err != nil {
		return nil, err
	}
	rec, ok := m.records[identity]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithMessage("email %s not found", identity)
	}
	return clone(rec), nil
}

func (m *Memory) GetByLegacyID(_ context.Context, id int64) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.LegacyID == id {
			return clone(rec), nil
		}
	}
	return nil, pkgerrors.ErrNotFound.WithMessage("email #%d not found", id)
}

func (m *Memory) CreatePending(_ context.Context, rec *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("CreatePending"); err != nil {
		return err
	}
	if _, exists := m.records[rec.Identity]; exists {
		return pkgerrors.ErrConflict.WithMessage("email %s already exists", rec.Identity)
	}

	now := time.Now()
	m.nextID++
	rec.LegacyID = m.nextID
	rec.State = store.StatePending
	rec.CreatedAt, rec.UpdatedAt = now, now
	if rec.ContentHash == "" {
		rec.ContentHash = store.ContentHash(rec.Content)
	}
	m.records[rec.Identity] = clone(rec)

	seen := rec.ReceivedAt
	if seen.IsZero() {
		seen = now
	}
	if s, ok := m.senders[rec.Sender]; ok {
		s.TotalMessages++
		if seen.After(s.LastSeenAt) {
			s.LastSeenAt = seen
		}
	} else {
		m.senders[rec.Sender] = &store.Sender{Address: rec.Sender, TotalMessages: 1, FirstSeenAt: seen, LastSeenAt: seen}
	}
	return nil
}

func (m *Memory) MarkProcessed(_ context.Context, identity string, meta *store.ReplyMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("MarkProcessed"); err != nil {
		return err
	}
	rec, ok := m.records[identity]
	if !ok {
		return pkgerrors.ErrNotFound.WithMessage("email %s not found", identity)
	}
	if rec.State != store.StatePending {
		return pkgerrors.ErrConflict.WithCause(store.ErrAlreadyProcessed)
	}
	reply := *meta
	rec.Reply = &reply
	rec.State = store.StateProcessed
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) ListByState(_ context.Context, state store.State, limit, offset int) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]store.Record, 0)
	for _, rec := range m.records {
		if state == "" || rec.State == state {
			out = append(out, *clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LegacyID > out[j].LegacyID })

	if offset >= len(out) {
		return []store.Record{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountByState(_ context.Context) (map[store.State]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[store.State]int64{store.StatePending: 0, store.StateProcessed: 0}
	for _, rec := range m.records {
		counts[rec.State]++
	}
	return counts, nil
}

func (m *Memory) GetSender(_ context.Context, address string) (*store.Sender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.senders[address]
	if !ok {
		return nil, pkgerrors.ErrNotFound.WithMessage("sender %s not found", address)
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) GetCursor(_ context.Context, account string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.cursors[account]
	return t, ok, nil
}

func (m *Memory) SaveCursor(_ context.Context, account string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SaveCursor"); err != nil {
		return err
	}
	if cur, ok := m.cursors[account]; !ok || seenAt.After(cur) {
		m.cursors[account] = seenAt
	}
	return nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

var _ store.Repository = (*Memory)(nil)

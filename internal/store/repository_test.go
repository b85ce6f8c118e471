package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/testinfra"
	pkgerrors "mailreply/pkg/errors"
)

func newPendingRecord(identity, externalID, sender string) *Record {
	return &Record{
		Identity:          identity,
		ExternalMessageID: externalID,
		Account:           "email1",
		Sender:            sender,
		Recipient:         "support@example.com",
		Subject:           "hello",
		Content:           "Subject: hello\n\nhello",
		Attachments: []Attachment{
			{Filename: "image1.png", MediaType: "image/png", SizeBytes: 42, ContentHash: "abc"},
		},
		ReceivedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func newReply() *ReplyMetadata {
	return &ReplyMetadata{
		ResponseText:     "hi",
		UserText:         "hello",
		Documents:        json.RawMessage(`["faq.md"]`),
		CompletionID:     "cmpl-1",
		Model:            "test-model",
		PromptTokens:     10,
		CompletionTokens: 2,
		TotalTokens:      12,
		ProcessingTime:   1500 * time.Millisecond,
		SentAt:           time.Now().UTC(),
		ProcessedAt:      time.Now().UTC(),
	}
}

func TestPostgresRepository_CreateAndFind(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := context.Background()

	rec := newPendingRecord("id-1", "msg-1@example.com", "a@x.com")
	require.NoError(t, repo.CreatePending(ctx, rec))
	assert.NotZero(t, rec.LegacyID)
	assert.Equal(t, ContentHash(rec.Content), rec.ContentHash)

	got, err := repo.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.Nil(t, got.Reply)
	assert.Equal(t, rec.Attachments, got.Attachments)

	byLegacy, err := repo.GetByLegacyID(ctx, rec.LegacyID)
	require.NoError(t, err)
	assert.Equal(t, "id-1", byLegacy.Identity)

	// an older row is still found by its raw message-id
	legacy, err := repo.FindForIngest(ctx, "new-identity", "msg-1@example.com")
	require.NoError(t, err)
	assert.Equal(t, "id-1", legacy.Identity)

	_, err = repo.FindForIngest(ctx, "missing", "")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPostgresRepository_DuplicateIdentityConflicts(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := context.Background()

	require.NoError(t, repo.CreatePending(ctx, newPendingRecord("id-1", "", "a@x.com")))
	err := repo.CreatePending(ctx, newPendingRecord("id-1", "", "a@x.com"))
	assert.True(t, pkgerrors.IsConflict(err))

	// the rolled back insert did not bump the sender
	sender, err := repo.GetSender(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 1, sender.TotalMessages)
}

func TestPostgresRepository_SenderProfile(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := context.Background()

	require.NoError(t, repo.CreatePending(ctx, newPendingRecord("id-1", "", "a@x.com")))
	second := newPendingRecord("id-2", "", "a@x.com")
	second.ReceivedAt = second.ReceivedAt.Add(time.Hour)
	require.NoError(t, repo.CreatePending(ctx, second))

	sender, err := repo.GetSender(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 2, sender.TotalMessages)
	assert.True(t, sender.LastSeenAt.Equal(second.ReceivedAt))
}

func TestPostgresRepository_MarkProcessed(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := context.Background()

	require.NoError(t, repo.CreatePending(ctx, newPendingRecord("id-1", "", "a@x.com")))
	require.NoError(t, repo.MarkProcessed(ctx, "id-1", newReply()))

	got, err := repo.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, StateProcessed, got.State)
	require.NotNil(t, got.Reply)
	assert.Equal(t, "hi", got.Reply.ResponseText)
	assert.Equal(t, "cmpl-1", got.Reply.CompletionID)
	assert.Equal(t, 12, got.Reply.TotalTokens)
	assert.Equal(t, 1500*time.Millisecond, got.Reply.ProcessingTime)
	assert.JSONEq(t, `["faq.md"]`, string(got.Reply.Documents))

	err = repo.MarkProcessed(ctx, "id-1", newReply())
	assert.True(t, errors.Is(err, ErrAlreadyProcessed))

	err = repo.MarkProcessed(ctx, "missing", newReply())
	assert.True(t, pkgerrors.IsNotFound(err))

	err = repo.MarkProcessed(ctx, "id-1", &ReplyMetadata{})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestPostgresRepository_MarkProcessedRace(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := context.Background()
	require.NoError(t, repo.CreatePending(ctx, newPendingRecord("id-race", "", "a@x.com")))

	const workers = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		lost      atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := repo.MarkProcessed(ctx, "id-race", newReply())
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrAlreadyProcessed):
				lost.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(workers-1), lost.Load())
}

func TestPostgresRepository_ListAndCount(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := context.Background()

	for _, id := range []string{"id-1", "id-2", "id-3"} {
		require.NoError(t, repo.CreatePending(ctx, newPendingRecord(id, "", "a@x.com")))
	}
	require.NoError(t, repo.MarkProcessed(ctx, "id-2", newReply()))

	pending, err := repo.ListByState(ctx, StatePending, 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := repo.ListByState(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	counts, err := repo.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[StatePending])
	assert.Equal(t, int64(1), counts[StateProcessed])
}

func TestPostgresRepository_Cursor(t *testing.T) {
	repo := NewRepository(testinfra.Postgres(t))
	ctx := context.Background()

	_, ok, err := repo.GetCursor(ctx, "email1")
	require.NoError(t, err)
	assert.False(t, ok)

	mark := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveCursor(ctx, "email1", mark))
	require.NoError(t, repo.SaveCursor(ctx, "email1", mark.Add(-time.Hour)))

	got, ok, err := repo.GetCursor(ctx, "email1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(mark))
}

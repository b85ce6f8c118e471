package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	pkgerrors "mailreply/pkg/errors"
)

const uniqueViolation = "23505"

type Repository interface {
	// FindForIngest looks a record up by identity, or by raw external
	// message-id for rows written before the current identity scheme.
	FindForIngest(ctx context.Context, identity, externalID string) (*Record, error)
	Get(ctx context.Context, identity string) (*Record, error)
	GetByLegacyID(ctx context.Context, id int64) (*Record, error)
	CreatePending(ctx context.Context, rec *Record) error
	MarkProcessed(ctx context.Context, identity string, meta *ReplyMetadata) error
	ListByState(ctx context.Context, state State, limit, offset int) ([]Record, error)
	CountByState(ctx context.Context) (map[State]int64, error)
	GetSender(ctx context.Context, address string) (*Sender, error)
	GetCursor(ctx context.Context, account string) (time.Time, bool, error)
	SaveCursor(ctx context.Context, account string, seenAt time.Time) error
}

type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

const recordColumns = `
	id, identity, COALESCE(external_message_id, ''), account, sender, recipient,
	subject, content, content_hash, attachment_summary, state, received_at,
	reply_text, reply_user_text, reply_documents, completion_id, model,
	prompt_tokens, completion_tokens, total_tokens, processing_ms,
	response_sent_at, processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec          Record
		attachments  []byte
		receivedAt   sql.NullTime
		replyText    sql.NullString
		userText     sql.NullString
		documents    []byte
		completionID sql.NullString
		model        sql.NullString
		promptTok    sql.NullInt64
		complTok     sql.NullInt64
		totalTok     sql.NullInt64
		processingMS sql.NullInt64
		sentAt       sql.NullTime
		processedAt  sql.NullTime
	)

	err := row.Scan(
		&rec.LegacyID, &rec.Identity, &rec.ExternalMessageID, &rec.Account, &rec.Sender, &rec.Recipient,
		&rec.Subject, &rec.Content, &rec.ContentHash, &attachments, &rec.State, &receivedAt,
		&replyText, &userText, &documents, &completionID, &model,
		&promptTok, &complTok, &totalTok, &processingMS,
		&sentAt, &processedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &rec.Attachments); err != nil {
			return nil, fmt.Errorf("failed to decode attachment summary of %s: %w", rec.Identity, err)
		}
	}
	if receivedAt.Valid {
		rec.ReceivedAt = receivedAt.Time
	}

	if rec.State == StateProcessed {
		rec.Reply = &ReplyMetadata{
			ResponseText:     replyText.String,
			UserText:         userText.String,
			Documents:        json.RawMessage(documents),
			CompletionID:     completionID.String,
			Model:            model.String,
			PromptTokens:     int(promptTok.Int64),
			CompletionTokens: int(complTok.Int64),
			TotalTokens:      int(totalTok.Int64),
			ProcessingTime:   time.Duration(processingMS.Int64) * time.Millisecond,
			SentAt:           sentAt.Time,
			ProcessedAt:      processedAt.Time,
		}
	}

	return &rec, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, what, query string, args ...interface{}) (*Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage("email %s not found", what)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email %s: %w", what, err)
	}
	return rec, nil
}

func (r *PostgresRepository) FindForIngest(ctx context.Context, identity, externalID string) (*Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM emails
		WHERE identity = $1 OR ($2 <> '' AND external_message_id = $2)
		ORDER BY (identity = $1) DESC
		LIMIT 1`

	return r.getOne(ctx, identity, query, identity, externalID)
}

func (r *PostgresRepository) Get(ctx context.Context, identity string) (*Record, error) {
	return r.getOne(ctx, identity, `SELECT `+recordColumns+` FROM emails WHERE identity = $1`, identity)
}

func (r *PostgresRepository) GetByLegacyID(ctx context.Context, id int64) (*Record, error) {
	return r.getOne(ctx, fmt.Sprintf("#%d", id), `SELECT `+recordColumns+` FROM emails WHERE id = $1`, id)
}

// CreatePending inserts a new Pending record and creates or bumps its
// sender profile in the same transaction.
func (r *PostgresRepository) CreatePending(ctx context.Context, rec *Record) error {
	if rec.ContentHash == "" {
		rec.ContentHash = ContentHash(rec.Content)
	}
	if rec.Attachments == nil {
		rec.Attachments = []Attachment{}
	}
	attachments, err := json.Marshal(rec.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachment summary: %w", err)
	}

	seenAt := rec.ReceivedAt
	if seenAt.IsZero() {
		seenAt = r.now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO senders (sender_address, total_messages, first_seen_at, last_seen_at)
		VALUES ($1, 1, $2, $2)
		ON CONFLICT (sender_address) DO UPDATE
		SET total_messages = senders.total_messages + 1,
		    last_seen_at = GREATEST(senders.last_seen_at, EXCLUDED.last_seen_at)`,
		rec.Sender, seenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sender %s: %w", rec.Sender, err)
	}

	var externalID sql.NullString
	if rec.ExternalMessageID != "" {
		externalID = sql.NullString{String: rec.ExternalMessageID, Valid: true}
	}
	var receivedAt sql.NullTime
	if !rec.ReceivedAt.IsZero() {
		receivedAt = sql.NullTime{Time: rec.ReceivedAt, Valid: true}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO emails (identity, external_message_id, account, sender, recipient,
		                    subject, content, content_hash, attachment_summary, state, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10)
		RETURNING id, created_at, updated_at`,
		rec.Identity, externalID, rec.Account, rec.Sender, rec.Recipient,
		rec.Subject, rec.Content, rec.ContentHash, string(attachments), receivedAt,
	).Scan(&rec.LegacyID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return pkgerrors.ErrConflict.WithCause(err).WithMessage("email %s already exists", rec.Identity)
		}
		return fmt.Errorf("failed to insert email %s: %w", rec.Identity, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit email %s: %w", rec.Identity, err)
	}

	rec.State = StatePending
	return nil
}

// MarkProcessed is the only Pending to Processed transition. The update is
// conditional on the current state, so of several concurrent callers for one
// identity exactly one succeeds; the rest get ErrAlreadyProcessed.
func (r *PostgresRepository) MarkProcessed(ctx context.Context, identity string, meta *ReplyMetadata) error {
	if err := meta.Validate(); err != nil {
		return err
	}

	// lib/pq sends []byte as bytea, so JSONB values go over the wire as text.
	documents := []byte(meta.Documents)
	if len(documents) == 0 {
		documents = []byte("[]")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE emails
		SET state = 'processed',
		    reply_text = $2, reply_user_text = $3, reply_documents = $4,
		    completion_id = $5, model = $6,
		    prompt_tokens = $7, completion_tokens = $8, total_tokens = $9,
		    processing_ms = $10, response_sent_at = $11, processed_at = $12,
		    updated_at = NOW()
		WHERE identity = $1 AND state = 'pending'`,
		identity, meta.ResponseText, meta.UserText, string(documents),
		meta.CompletionID, meta.Model,
		meta.PromptTokens, meta.CompletionTokens, meta.TotalTokens,
		meta.ProcessingTime.Milliseconds(), nullTime(meta.SentAt), meta.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email %s processed: %w", identity, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM emails WHERE identity = $1)`, identity).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check email %s: %w", identity, err)
		}
		if !exists {
			return pkgerrors.ErrNotFound.WithMessage("email %s not found", identity)
		}
		return pkgerrors.ErrConflict.WithCause(ErrAlreadyProcessed)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit email %s: %w", identity, err)
	}
	return nil
}

func (r *PostgresRepository) ListByState(ctx context.Context, state State, limit, offset int) ([]Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM emails
		WHERE ($1 = '' OR state = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, string(state), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return records, nil
}

func (r *PostgresRepository) CountByState(ctx context.Context) (map[State]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM emails GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}
	defer rows.Close()

	counts := map[State]int64{StatePending: 0, StateProcessed: 0}
	for rows.Next() {
		var (
			state State
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (r *PostgresRepository) GetSender(ctx context.Context, address string) (*Sender, error) {
	var s Sender
	err := r.db.QueryRowContext(ctx, `
		SELECT sender_address, total_messages, first_seen_at, last_seen_at
		FROM senders WHERE sender_address = $1`, address,
	).Scan(&s.Address, &s.TotalMessages, &s.FirstSeenAt, &s.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrNotFound.WithMessage("sender %s not found", address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sender %s: %w", address, err)
	}
	return &s, nil
}

// GetCursor returns the account's high-water mark, if one was saved.
func (r *PostgresRepository) GetCursor(ctx context.Context, account string) (time.Time, bool, error) {
	var seenAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT last_seen_at FROM mailbox_cursors WHERE account = $1`, account,
	).Scan(&seenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get cursor for %s: %w", account, err)
	}
	return seenAt, true, nil
}

// SaveCursor only ever moves the mark forward.
func (r *PostgresRepository) SaveCursor(ctx context.Context, account string, seenAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailbox_cursors (account, last_seen_at, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account) DO UPDATE
		SET last_seen_at = GREATEST(mailbox_cursors.last_seen_at, EXCLUDED.last_seen_at),
		    updated_at = NOW()`,
		account, seenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save cursor for %s: %w", account, err)
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

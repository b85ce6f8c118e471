package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	pkgerrors "mailreply/pkg/errors"
)

type State string

const (
	StatePending   State = "pending"
	StateProcessed State = "processed"
)

func (s State) Valid() bool {
	return s == StatePending || s == StateProcessed
}

// ErrAlreadyProcessed is returned when a conditional Pending to Processed
// update finds the record already processed.
var ErrAlreadyProcessed = errors.New("email already processed")

// Attachment is the summary kept for each attachment; the bytes themselves
// are not stored.
type Attachment struct {
	Filename    string `json:"filename"`
	MediaType   string `json:"type"`
	SizeBytes   int64  `json:"size"`
	ContentHash string `json:"hash"`
	StorageURL  string `json:"url"`
}

// ReplyMetadata is written exactly once, together with the Processed state.
type ReplyMetadata struct {
	ResponseText     string          `json:"response_text"`
	UserText         string          `json:"user_text,omitempty"`
	Documents        json.RawMessage `json:"rag_docs,omitempty"`
	CompletionID     string          `json:"completion_id"`
	Model            string          `json:"model,omitempty"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	ProcessingTime   time.Duration   `json:"processing_time"`
	SentAt           time.Time       `json:"response_sent_at"`
	ProcessedAt      time.Time       `json:"processed_at"`
}

func (m *ReplyMetadata) Validate() error {
	if m == nil {
		return pkgerrors.ErrValidation.WithMessage("reply metadata is required")
	}
	if m.ResponseText == "" || m.CompletionID == "" {
		return pkgerrors.ErrValidation.WithMessage("reply metadata needs response text and completion id")
	}
	if m.ProcessedAt.IsZero() {
		return pkgerrors.ErrValidation.WithMessage("reply metadata needs processed_at")
	}
	return nil
}

type Record struct {
	LegacyID          int64          `json:"id"`
	Identity          string         `json:"identity"`
	ExternalMessageID string         `json:"external_message_id,omitempty"`
	Account           string         `json:"account"`
	Sender            string         `json:"sender"`
	Recipient         string         `json:"recipient"`
	Subject           string         `json:"subject"`
	Content           string         `json:"content"`
	ContentHash       string         `json:"content_hash"`
	Attachments       []Attachment   `json:"attachments"`
	State             State          `json:"state"`
	ReceivedAt        time.Time      `json:"received_at"`
	Reply             *ReplyMetadata `json:"reply,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

type Sender struct {
	Address       string    `json:"sender_address"`
	TotalMessages int       `json:"total_messages"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Package completion calls the reply-generation service.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailreply/internal/config"
	"mailreply/internal/constants"
	"mailreply/internal/logger"
	"mailreply/internal/store"
	"mailreply/pkg/circuitbreaker"
	pkgerrors "mailreply/pkg/errors"
	"mailreply/pkg/metrics"
	"mailreply/pkg/retry"
	"mailreply/pkg/tracing"
)

type AttachmentRef struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
}

type Request struct {
	MessageID      string          `json:"message_id"`
	Text           string          `json:"text"`
	Attachments    []AttachmentRef `json:"attachments"`
	HasAttachments bool            `json:"has_attachments"`
}

type Response struct {
	MessageID        string          `json:"message_id"`
	ResponseText     string          `json:"response_text"`
	UserText         string          `json:"user_text"`
	Emotion          string          `json:"emotion"`
	RAGDocs          json.RawMessage `json:"rag_docs"`
	CompletionID     string          `json:"completion_id"`
	PromptTokens     int             `json:"prompt_tokens"`
	CompletionTokens int             `json:"completion_tokens"`
	TotalTokens      int             `json:"total_tokens"`
	Model            string          `json:"model"`

	// Empty marks the locally built reply for a blank message.
	Empty bool `json:"-"`
}

// Completer is what the reply consumer needs from the service.
type Completer interface {
	Complete(ctx context.Context, messageID, text string, attachments []store.Attachment) (*Response, error)
}

type Client struct {
	httpClient *http.Client
	url        string
	apiKey     string
	policy     retry.Policy
	breaker    *circuitbreaker.Wrapper
	emptyText  string
	logger     logger.Logger
}

func NewClient(cfg config.CompletionConfig, cb *circuitbreaker.Config, log logger.Logger) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = constants.DefaultCompletionTimeout
	}
	attempts := cfg.MaxRetries
	if attempts <= 0 {
		attempts = constants.DefaultCompletionRetries
	}
	emptyText := cfg.EmptyReplyText
	if emptyText == "" {
		emptyText = constants.DefaultEmptyReplyText
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		policy: retry.Policy{
			MaxAttempts:     attempts,
			InitialInterval: time.Second,
			MaxInterval:     4 * time.Second,
			Multiplier:      2.0,
		},
		emptyText: emptyText,
		logger:    log,
	}
	if cb != nil {
		c.breaker = circuitbreaker.NewWrapper(*cb)
	}
	return c
}

// EmptyResponse is the reply sent when there is nothing left to answer
// after cleaning. It never reaches the service.
func EmptyResponse(messageID, text string) *Response {
	return &Response{
		MessageID:    messageID,
		ResponseText: text,
		RAGDocs:      json.RawMessage("[]"),
		CompletionID: uuid.NewString(),
		Empty:        true,
	}
}

// Complete asks the service for a reply to text. Only attachments that have
// been uploaded (non-empty URL) are forwarded.
func (c *Client) Complete(ctx context.Context, messageID, text string, attachments []store.Attachment) (*Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.ObserveCompletion("empty", 0)
		return EmptyResponse(messageID, c.emptyText), nil
	}

	req := Request{MessageID: messageID, Text: text, Attachments: []AttachmentRef{}}
	for _, a := range attachments {
		if a.StorageURL == "" {
			continue
		}
		req.Attachments = append(req.Attachments, AttachmentRef{
			URL:      a.StorageURL,
			Filename: a.Filename,
			Type:     a.MediaType,
			Size:     a.SizeBytes,
		})
	}
	req.HasAttachments = len(req.Attachments) > 0

	body, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.ErrInternal.WithMessage("encoding completion request").WithCause(err)
	}

	ctx, span := tracing.StartClientSpan(ctx, "completion.request")
	start := time.Now()
	resp, err := c.execute(ctx, body)
	if err != nil {
		metrics.ObserveCompletion("error", time.Since(start))
		tracing.End(span, "error", err)
		return nil, err
	}
	metrics.ObserveCompletion("ok", time.Since(start))
	tracing.End(span, "ok", nil)

	if strings.TrimSpace(resp.ResponseText) == "" {
		return nil, pkgerrors.ErrUpstreamDegraded.WithMessage("completion returned empty response_text")
	}
	if resp.CompletionID == "" {
		resp.CompletionID = uuid.NewString()
	}
	if len(resp.RAGDocs) == 0 || string(resp.RAGDocs) == "null" {
		resp.RAGDocs = json.RawMessage("[]")
	}
	return resp, nil
}

func (c *Client) execute(ctx context.Context, body []byte) (*Response, error) {
	if c.breaker == nil {
		return c.postWithRetry(ctx, body)
	}

	out, err := c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.postWithRetry(ctx, body)
	})
	if err != nil {
		if circuitbreaker.IsRejection(err) {
			return nil, pkgerrors.ErrTransport.WithMessage("completion circuit open").WithCause(err)
		}
		return nil, err
	}
	return out.(*Response), nil
}

// postWithRetry retries network failures and 429/5xx answers. Any other
// failure ends the sequence at once.
func (c *Client) postWithRetry(ctx context.Context, body []byte) (*Response, error) {
	var (
		result *Response
		final  error
	)

	err := retry.RetryWithCallback(ctx, c.policy, func() error {
		resp, retryable, err := c.post(ctx, body)
		if err == nil {
			result = resp
			return nil
		}
		if !retryable {
			final = err
			return retry.NewFatalError(err)
		}
		return err
	}, func(attempt int, err error, next time.Duration) {
		c.logger.WarnwCtx(ctx, "Retrying completion request",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})

	if final != nil {
		return nil, final
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, pkgerrors.ErrTimeout.WithMessage("completion request interrupted").WithCause(ctxErr)
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*Response, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, pkgerrors.ErrInternal.WithMessage("building completion request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectHTTP(ctx, httpReq.Header)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, pkgerrors.ErrTransport.WithMessage("completion request failed").WithCause(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < constants.HTTPStatusOKMin || httpResp.StatusCode >= constants.HTTPStatusOKMax {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		statusErr := fmt.Errorf("status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(snippet)))
		if retryableStatus(httpResp.StatusCode) {
			return nil, true, pkgerrors.ErrTransport.WithMessage("completion service returned %d", httpResp.StatusCode).WithCause(statusErr)
		}
		return nil, false, pkgerrors.ErrUpstreamDegraded.WithMessage("completion service returned %d", httpResp.StatusCode).WithCause(statusErr)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, false, pkgerrors.ErrUpstreamDegraded.WithMessage("decoding completion response").WithCause(err)
	}
	return &resp, false, nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

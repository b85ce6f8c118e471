package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailreply/internal/logger"
	"mailreply/internal/queue"
	"mailreply/internal/store"
	"mailreply/internal/store/storetest"
)

type fakeProducer struct {
	tasks []queue.Task
	err   error
}

func (f *fakeProducer) Push(_ context.Context, task queue.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type fixedDepth int64

func (d fixedDepth) Len(context.Context) (int64, error) { return int64(d), nil }

func setup(t *testing.T, opts ...ServiceOption) (*gin.Engine, *storetest.Memory, *fakeProducer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := storetest.NewMemory()
	producer := &fakeProducer{}
	svc := NewService(repo, producer, logger.NopLogger(), opts...)

	router := gin.New()
	NewHandler(svc, logger.NopLogger()).RegisterRoutes(router)
	return router, repo, producer
}

func seed(t *testing.T, repo *storetest.Memory, id string, processed bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreatePending(ctx, &store.Record{
		Identity:  id,
		Sender:    "a@x.com",
		Recipient: "bot@example.com",
		Content:   "hello",
	}))
	if processed {
		require.NoError(t, repo.MarkProcessed(ctx, id, &store.ReplyMetadata{
			ResponseText: "hi", CompletionID: "c1", ProcessedAt: time.Now(),
		}))
	}
}

func do(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestListEmails(t *testing.T) {
	router, repo, _ := setup(t)
	seed(t, repo, "id-1", false)
	seed(t, repo, "id-2", true)
	seed(t, repo, "id-3", false)

	w := do(router, http.MethodGet, "/api/v1/emails?state=pending")
	require.Equal(t, http.StatusOK, w.Code)

	var records []store.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "id-3", records[0].Identity)

	w = do(router, http.MethodGet, "/api/v1/emails?limit=1&offset=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "id-2", records[0].Identity)

	w = do(router, http.MethodGet, "/api/v1/emails?state=bogus")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEmail(t *testing.T) {
	router, repo, _ := setup(t)
	seed(t, repo, "id-1", true)

	w := do(router, http.MethodGet, "/api/v1/emails/id-1")
	require.Equal(t, http.StatusOK, w.Code)
	var rec store.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, store.StateProcessed, rec.State)
	require.NotNil(t, rec.Reply)
	assert.Equal(t, "hi", rec.Reply.ResponseText)

	w = do(router, http.MethodGet, "/api/v1/emails/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body["error_code"])
}

func TestGetSender(t *testing.T) {
	router, repo, _ := setup(t)
	seed(t, repo, "id-1", false)

	w := do(router, http.MethodGet, "/api/v1/senders/A@X.com")
	require.Equal(t, http.StatusOK, w.Code)
	var sender store.Sender
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sender))
	assert.Equal(t, 1, sender.TotalMessages)
}

func TestStats(t *testing.T) {
	router, repo, _ := setup(t, WithQueueDepth(fixedDepth(4)))
	seed(t, repo, "id-1", false)
	seed(t, repo, "id-2", true)

	w := do(router, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Processed)
	require.NotNil(t, stats.QueueDepth)
	assert.Equal(t, int64(4), *stats.QueueDepth)
}

func TestRequeue(t *testing.T) {
	router, repo, producer := setup(t)
	seed(t, repo, "pending-1", false)
	seed(t, repo, "done-1", true)

	w := do(router, http.MethodPost, "/api/v1/emails/pending-1/requeue")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []queue.Task{queue.IdentityTask("pending-1")}, producer.tasks)

	w = do(router, http.MethodPost, "/api/v1/emails/done-1/requeue")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(router, http.MethodPost, "/api/v1/emails/missing/requeue")
	assert.Equal(t, http.StatusNotFound, w.Code)

	producer.err = errors.New("redis down")
	w = do(router, http.MethodPost, "/api/v1/emails/pending-1/requeue")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Len(t, producer.tasks, 1)
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 100, parseLimit(""))
	assert.Equal(t, 5, parseLimit("5"))
	assert.Equal(t, 100, parseLimit("-1"))
	assert.Equal(t, 100, parseLimit("5000"))
	assert.Equal(t, 0, parseOffset("x"))
	assert.Equal(t, 7, parseOffset("7"))
}

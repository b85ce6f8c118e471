package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Check(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewCheckFunc("ok", func(context.Context) error { return nil }))

	h := r.Check(context.Background())
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, StatusHealthy, h.Checks["ok"].Status)

	r.Register(NewCheckFunc("down", func(context.Context) error { return errors.New("refused") }))
	h = r.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Equal(t, "refused", h.Checks["down"].Message)
}

func TestRegistry_OptionalFailureDegrades(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewCheckFunc("postgresql", func(context.Context) error { return nil }))
	r.RegisterOptional(NewCheckFunc("redis", func(context.Context) error { return errors.New("refused") }))

	h := r.Check(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	assert.True(t, h.Checks["redis"].Optional)
	assert.Equal(t, StatusUnhealthy, h.Checks["redis"].Status)

	w := httptest.NewRecorder()
	r.Handler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	r.Register(NewCheckFunc("kafka", func(context.Context) error { return errors.New("down") }))
	assert.Equal(t, StatusUnhealthy, r.Check(context.Background()).Status)
}

func TestRegistry_ChecksGetDeadline(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewCheckFunc("deadline", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}))
	assert.Equal(t, StatusHealthy, r.Check(context.Background()).Status)
}

func TestRegistry_Handler(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register(NewCheckFunc("down", func(context.Context) error { return errors.New("refused") }))

	w := httptest.NewRecorder()
	r.Handler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var h Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, StatusUnhealthy, h.Status)
}

func TestKafkaChecker_NoBrokers(t *testing.T) {
	err := NewKafkaChecker(nil).Check(context.Background())
	assert.Error(t, err)
}

package cache

import (
	"context"
	"fmt"
	"time"

	"mailreply/pkg/circuitbreaker"
)

// CircuitBreakerRepository stops calling Redis after repeated failures so a
// dead cache costs one fast error per lookup instead of a timeout.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

// NewCircuitBreakerRepository returns repo unchanged when cfg is nil.
func NewCircuitBreakerRepository(repo Repository, cfg *circuitbreaker.Config) Repository {
	if cfg == nil {
		return repo
	}
	return &CircuitBreakerRepository{repo: repo, cb: circuitbreaker.NewWrapper(*cfg)}
}

func (r *CircuitBreakerRepository) AddToSet(ctx context.Context, setKey, member string, ttl time.Duration) error {
	_, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, r.repo.AddToSet(ctx, setKey, member, ttl)
	})
	return r.wrap(err)
}

func (r *CircuitBreakerRepository) IsSetMember(ctx context.Context, setKey, member string) (bool, error) {
	return r.boolCall(ctx, func() (bool, error) { return r.repo.IsSetMember(ctx, setKey, member) })
}

func (r *CircuitBreakerRepository) SetKey(ctx context.Context, key string, ttl time.Duration) error {
	_, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, r.repo.SetKey(ctx, key, ttl)
	})
	return r.wrap(err)
}

func (r *CircuitBreakerRepository) KeyExists(ctx context.Context, key string) (bool, error) {
	return r.boolCall(ctx, func() (bool, error) { return r.repo.KeyExists(ctx, key) })
}

func (r *CircuitBreakerRepository) boolCall(ctx context.Context, fn func() (bool, error)) (bool, error) {
	result, err := r.cb.ExecuteWithContext(ctx, func() (interface{}, error) { return fn() })
	if err != nil {
		return false, r.wrap(err)
	}
	ok, _ := result.(bool)
	return ok, nil
}

func (r *CircuitBreakerRepository) wrap(err error) error {
	if err != nil && circuitbreaker.IsRejection(err) {
		return fmt.Errorf("circuit breaker %s is open: %w", r.cb.Name(), err)
	}
	return err
}

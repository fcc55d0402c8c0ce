package store

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tracos/syncbridge/internal/retry"
	"github.com/tracos/syncbridge/internal/schema"
)

// RetryingStore runs every operation of the wrapped store under a retry
// policy. Between attempts that failed at the connection level it asks the
// wrapped store to reconnect, when the store supports it.
type RetryingStore struct {
	inner  Store
	policy retry.Policy
	log    zerolog.Logger
}

var _ Store = (*RetryingStore)(nil)

// WithRetry wraps s. The policy's OnRetry hook is replaced; its Retryable
// predicate is kept but ErrNotFound is never retried.
func WithRetry(s Store, p retry.Policy, l zerolog.Logger) *RetryingStore {
	r := &RetryingStore{
		inner: s,
		log:   l.With().Str("cmp", "store").Logger(),
	}

	base := p.Retryable
	p.Retryable = func(err error) bool {
		if errors.Is(err, ErrNotFound) {
			return false
		}
		return base == nil || base(err)
	}
	p.OnRetry = r.beforeRetry
	r.policy = p
	return r
}

// Unwrap returns the wrapped store.
func (r *RetryingStore) Unwrap() Store {
	return r.inner
}

func (r *RetryingStore) beforeRetry(ctx context.Context, attempt int, err error) error {
	ev := r.log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", r.policy.MaxAttempts)
	rc, ok := r.inner.(Reconnector)
	if !ok || !IsConnectionError(err) {
		ev.Msg("store operation failed, retrying")
		return nil
	}
	ev.Msg("store connection failed, reconnecting")
	if rerr := rc.Reconnect(ctx); rerr != nil {
		r.log.Warn().Err(rerr).Msg("reconnect failed")
		return rerr
	}
	return nil
}

func (r *RetryingStore) Connect(ctx context.Context) error {
	return retry.Do(ctx, r.policy, r.inner.Connect)
}

// Disconnect is not retried.
func (r *RetryingStore) Disconnect(ctx context.Context) error {
	return r.inner.Disconnect(ctx)
}

func (r *RetryingStore) Unsynced(ctx context.Context) ([]schema.TracOSWorkorder, error) {
	return retry.DoValue(ctx, r.policy, r.inner.Unsynced)
}

func (r *RetryingStore) Upsert(ctx context.Context, wo schema.TracOSWorkorder) (UpsertResult, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) (UpsertResult, error) {
		return r.inner.Upsert(ctx, wo)
	})
}

func (r *RetryingStore) MarkSynced(ctx context.Context, id schema.DocumentID) error {
	return retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.inner.MarkSynced(ctx, id)
	})
}

func (r *RetryingStore) Get(ctx context.Context, number int64) (schema.TracOSWorkorder, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) (schema.TracOSWorkorder, error) {
		return r.inner.Get(ctx, number)
	})
}

func (r *RetryingStore) Count(ctx context.Context) (int64, error) {
	return retry.DoValue(ctx, r.policy, r.inner.Count)
}

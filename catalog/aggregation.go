// Package catalog is the application layer of the products and
// categories services.
package catalog

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/samandartukhtayev/ecommerce-sharding/circuitbreaker"
	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/logger"
	"github.com/samandartukhtayev/ecommerce-sharding/metrics"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

const (
	defaultLookupTimeout = 5 * time.Second

	opGetOne   = "get_one"
	opGetBatch = "get_batch"
)

// CategoryLookup is the remote category RPC
type CategoryLookup interface {
	GetCategory(ctx context.Context, id string) (*models.Category, error)
	GetCategoriesBatch(ctx context.Context, ids []string) ([]models.Category, error)
}

// AggregationClient decorates CategoryLookup with a hard timeout, a
// circuit breaker and a fallback: any failure yields "no category" so a
// product read never fails because the categories service is down.
// There are no retries within a request.
type AggregationClient struct {
	lookup  CategoryLookup
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewAggregationClient(lookup CategoryLookup, cfg config.CategoryConfig, log *zap.Logger, m *metrics.Metrics) *AggregationClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	a := &AggregationClient{
		lookup:  lookup,
		timeout: timeout,
		log:     logger.OrNop(log),
		metrics: m,
	}
	if cfg.Breaker.Enabled {
		a.breaker = circuitbreaker.New(cfg.Breaker)
	}
	return a
}

// GetOne returns the category or nil when it is missing or unavailable
func (a *AggregationClient) GetOne(ctx context.Context, id string) *models.Category {
	if id == "" {
		return nil
	}
	category, err := call(ctx, a, func(ctx context.Context) (*models.Category, error) {
		return a.lookup.GetCategory(ctx, id)
	})
	if err != nil {
		a.fallback(opGetOne, err, zap.String("category_id", id))
		return nil
	}
	a.metrics.CategoryLookup(opGetOne, metrics.OutcomeSuccess)
	return category
}

// GetBatch resolves ids in one call. Ids that are missing, or all of
// them when the call fails, are absent from the map.
func (a *AggregationClient) GetBatch(ctx context.Context, ids []string) map[string]*models.Category {
	out := make(map[string]*models.Category)
	ids = distinct(ids)
	if len(ids) == 0 {
		return out
	}

	categories, err := call(ctx, a, func(ctx context.Context) ([]models.Category, error) {
		return a.lookup.GetCategoriesBatch(ctx, ids)
	})
	if err != nil {
		a.fallback(opGetBatch, err, zap.Int("ids", len(ids)))
		return out
	}

	for i := range categories {
		c := categories[i]
		out[c.ID] = &c
	}
	a.metrics.CategoryLookup(opGetBatch, metrics.OutcomeSuccess)
	return out
}

type callResult[T any] struct {
	value T
	err   error
}

// call runs fn under the breaker and returns no later than the timeout,
// even if fn ignores its context. The buffered channel lets a late fn
// finish without blocking. A caller that is already gone is not sent
// through the breaker at all.
func call[T any](ctx context.Context, a *AggregationClient, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if err := ctx.Err(); err != nil {
		return out, err
	}
	parent := ctx
	bounded := func() error {
		ctx, cancel := context.WithTimeout(parent, a.timeout)
		defer cancel()

		done := make(chan callResult[T], 1)
		go func() {
			v, err := fn(ctx)
			done <- callResult[T]{value: v, err: err}
		}()

		select {
		case r := <-done:
			out = r.value
			return r.err
		case <-ctx.Done():
			if parentErr := parent.Err(); parentErr != nil {
				return parentErr
			}
			return ctx.Err()
		}
	}

	var err error
	if a.breaker == nil {
		err = bounded()
	} else {
		err = a.breaker.Execute(bounded)
	}
	return out, err
}

func (a *AggregationClient) fallback(op string, err error, fields ...zap.Field) {
	outcome := metrics.OutcomeFailure
	switch {
	case errors.Is(err, context.Canceled):
		outcome = metrics.OutcomeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeTimeout
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		outcome = metrics.OutcomeFallback
	}
	a.metrics.CategoryLookup(op, outcome)
	a.log.Warn("Category lookup failed, continuing without category",
		append(fields, zap.String("op", op), zap.String("outcome", outcome), zap.Error(err))...)
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/samandartukhtayev/ecommerce-sharding/config"
	"github.com/samandartukhtayev/ecommerce-sharding/metrics"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

// fakeLookup serves categories from a map. delay is applied without
// honouring ctx, like a remote that ignores cancellation.
type fakeLookup struct {
	mu         sync.Mutex
	categories map[string]models.Category
	delay      time.Duration
	err        error
	oneCalls   int32
	batchCalls int32
	batchIDs   [][]string
}

func (f *fakeLookup) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	atomic.AddInt32(&f.oneCalls, 1)
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.categories[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeLookup) GetCategoriesBatch(ctx context.Context, ids []string) ([]models.Category, error) {
	atomic.AddInt32(&f.batchCalls, 1)
	f.mu.Lock()
	f.batchIDs = append(f.batchIDs, ids)
	f.mu.Unlock()
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Category
	for _, id := range ids {
		if c, ok := f.categories[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func twoCategories() map[string]models.Category {
	return map[string]models.Category{
		"c1": {ID: "c1", Name: "Electronics", Slug: "electronics"},
		"c2": {ID: "c2", Name: "Books", Slug: "books"},
	}
}

func TestAggregationClient_GetOne(t *testing.T) {
	a := NewAggregationClient(&fakeLookup{categories: twoCategories()}, config.CategoryConfig{Timeout: time.Second}, nil, nil)

	c := a.GetOne(context.Background(), "c1")
	require.NotNil(t, c)
	assert.Equal(t, "Electronics", c.Name)

	assert.Nil(t, a.GetOne(context.Background(), "c3"))
	assert.Nil(t, a.GetOne(context.Background(), ""))
}

func TestAggregationClient_TimeoutReturnsNilWithinBound(t *testing.T) {
	lookup := &fakeLookup{categories: twoCategories(), delay: 500 * time.Millisecond}
	reg := prometheus.NewRegistry()
	core, logs := observer.New(zapcore.WarnLevel)
	a := NewAggregationClient(lookup, config.CategoryConfig{Timeout: 50 * time.Millisecond}, zap.New(core), metrics.New(reg))

	start := time.Now()
	c := a.GetOne(context.Background(), "c1")
	elapsed := time.Since(start)

	assert.Nil(t, c)
	assert.Less(t, elapsed, 400*time.Millisecond, "caller must not wait for the slow remote")
	assert.Equal(t, 1, logs.FilterMessage("Category lookup failed, continuing without category").Len())

	count, err := testutil.GatherAndCount(reg, "category_lookup_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAggregationClient_ErrorFallsBack(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("connection refused")}
	a := NewAggregationClient(lookup, config.CategoryConfig{}, nil, nil)

	assert.Nil(t, a.GetOne(context.Background(), "c1"))
	assert.Empty(t, a.GetBatch(context.Background(), []string{"c1", "c2"}))
}

func TestAggregationClient_GetBatch(t *testing.T) {
	lookup := &fakeLookup{categories: twoCategories()}
	a := NewAggregationClient(lookup, config.CategoryConfig{}, nil, nil)

	got := a.GetBatch(context.Background(), []string{"c1", "c2", "c3", "c1", ""})

	assert.Len(t, got, 2)
	assert.Equal(t, "Books", got["c2"].Name)
	assert.Nil(t, got["c3"])
	require.Len(t, lookup.batchIDs, 1)
	assert.Equal(t, []string{"c1", "c2", "c3"}, lookup.batchIDs[0], "ids are deduplicated")
}

func TestAggregationClient_GetBatchEmptySkipsCall(t *testing.T) {
	lookup := &fakeLookup{}
	a := NewAggregationClient(lookup, config.CategoryConfig{}, nil, nil)

	assert.Empty(t, a.GetBatch(context.Background(), nil))
	assert.Zero(t, atomic.LoadInt32(&lookup.batchCalls))
}

func TestAggregationClient_BreakerStopsCalling(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("unavailable")}
	a := NewAggregationClient(lookup, config.CategoryConfig{
		Breaker: config.BreakerConfig{Enabled: true, FailureThreshold: 2, ResetTimeout: time.Minute},
	}, nil, nil)

	for i := 0; i < 5; i++ {
		assert.Nil(t, a.GetOne(context.Background(), "c1"))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&lookup.oneCalls), "open breaker short-circuits")
}

func TestAggregationClient_NoRetry(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("unavailable")}
	a := NewAggregationClient(lookup, config.CategoryConfig{}, nil, nil)

	a.GetOne(context.Background(), "c1")
	assert.Equal(t, int32(1), atomic.LoadInt32(&lookup.oneCalls))
}

func TestAggregationClient_CanceledCallersDoNotOpenBreaker(t *testing.T) {
	lookup := &fakeLookup{categories: twoCategories()}
	a := NewAggregationClient(lookup, config.CategoryConfig{
		Breaker: config.BreakerConfig{Enabled: true, FailureThreshold: 2, ResetTimeout: time.Minute},
	}, nil, nil)

	gone, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		assert.Nil(t, a.GetOne(gone, "c1"))
	}
	assert.Zero(t, atomic.LoadInt32(&lookup.oneCalls), "a cancelled caller is not forwarded")

	c := a.GetOne(context.Background(), "c1")
	require.NotNil(t, c, "a healthy remote keeps serving")
	assert.Equal(t, "Electronics", c.Name)
	assert.Equal(t, "closed", a.breaker.State().String())
}

func TestAggregationClient_CancelMidCallIsNotAFailure(t *testing.T) {
	lookup := &fakeLookup{categories: twoCategories(), delay: 200 * time.Millisecond}
	reg := prometheus.NewRegistry()
	a := NewAggregationClient(lookup, config.CategoryConfig{
		Timeout: time.Second,
		Breaker: config.BreakerConfig{Enabled: true, FailureThreshold: 1, ResetTimeout: time.Minute},
	}, nil, metrics.New(reg))

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(10*time.Millisecond, cancel)

		start := time.Now()
		assert.Nil(t, a.GetOne(ctx, "c1"))
		assert.Less(t, time.Since(start), 150*time.Millisecond, "returns as soon as the caller leaves")
	}

	_, _, failures := a.breaker.Stats()
	assert.Zero(t, failures)
	assert.Equal(t, "closed", a.breaker.State().String())

	count, err := testutil.GatherAndCount(reg, "category_lookup_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one series: get_one/canceled")
}

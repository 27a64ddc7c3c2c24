package ask

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blentor/blentor/internal/testutil"
)

type countingUsageStore struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int
}

func newCountingUsageStore() *countingUsageStore {
	return &countingUsageStore{counts: make(map[uuid.UUID]int)}
}

func (s *countingUsageStore) IncrementUsage(_ context.Context, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[itemID]++
	return nil
}

func (s *countingUsageStore) count(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[id]
}

func TestReporterDeliversReports(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newCountingUsageStore()
	r := NewReporter(store, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)

	id := uuid.New()
	r.Report(id)
	r.Report(id)

	cancel()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not shut down")
	}

	assert.Equal(t, 2, store.count(id))
	assert.Zero(t, r.Dropped())
}

func TestReporterFlushesQueueOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newCountingUsageStore()
	r := NewReporter(store, testutil.DiscardLogger())

	// Enqueue before the drain goroutine starts, then shut down
	// immediately: everything queued must still land.
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
		r.Report(ids[i])
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not shut down")
	}

	for _, id := range ids {
		assert.Equal(t, 1, store.count(id))
	}
}

func TestReporterDropsWhenQueueFull(t *testing.T) {
	store := newCountingUsageStore()
	r := NewReporter(store, testutil.DiscardLogger())

	// Never started: the queue fills and overflow must not block.
	for range defaultReporterQueue + 5 {
		r.Report(uuid.New())
	}

	assert.Equal(t, int64(5), r.Dropped())
}

func TestReporterStartIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := newCountingUsageStore()
	r := NewReporter(store, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	r.Start(ctx)
	r.Start(ctx)

	cancel()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reporter did not shut down")
	}

	require.Zero(t, r.Dropped())
}

package ask

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// defaultReporterQueue bounds the pending usage increments. When the queue
// is full new reports are dropped and counted — observable loss instead of
// an unbounded goroutine pile or silent swallowing.
const defaultReporterQueue = 256

// UsageStore is the write the reporter performs. *knowledge.Store
// satisfies it.
type UsageStore interface {
	IncrementUsage(ctx context.Context, itemID uuid.UUID) error
}

// Reporter drains usage reports to the store on a single background
// goroutine. Failures log and drop; the answer path never waits on it.
type Reporter struct {
	store   UsageStore
	queue   chan uuid.UUID
	dropped atomic.Int64
	logger  *slog.Logger

	startOnce sync.Once
	done      chan struct{}
}

// NewReporter creates a Reporter with the default queue size.
func NewReporter(store UsageStore, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		store:  store,
		queue:  make(chan uuid.UUID, defaultReporterQueue),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the drain goroutine. It exits when ctx is canceled,
// after draining whatever is already queued.
func (r *Reporter) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

// Report enqueues a usage increment. Never blocks: a full queue drops the
// report and bumps the drop counter.
func (r *Reporter) Report(itemID uuid.UUID) {
	select {
	case r.queue <- itemID:
	default:
		n := r.dropped.Add(1)
		if n%100 == 1 {
			r.logger.Warn("usage report queue full, dropping", "dropped_total", n)
		}
	}
}

// Dropped returns how many reports were lost to a full queue.
func (r *Reporter) Dropped() int64 { return r.dropped.Load() }

// Done is closed once the drain goroutine has exited.
func (r *Reporter) Done() <-chan struct{} { return r.done }

func (r *Reporter) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case id := <-r.queue:
			r.write(id)
		}
	}
}

// drain flushes queued reports at shutdown with a background context;
// the request contexts that produced them are already gone.
func (r *Reporter) drain() {
	for {
		select {
		case id := <-r.queue:
			r.write(id)
		default:
			return
		}
	}
}

func (r *Reporter) write(id uuid.UUID) {
	if err := r.store.IncrementUsage(context.Background(), id); err != nil {
		r.logger.Warn("usage increment failed", "item_id", id, "error", err)
	}
}

// Package actor provides a hash-partitioned single-writer job queue.
// TradeCoordinator and SignalCoordinator both need P1's guarantee that
// concurrent transitions on the same entity serialize into one valid
// ordering — this is the generic mechanism both build on, grounded on the
// engine's own per-symbol goroutine fan-out (each partition is exactly
// that pattern, but long-lived instead of one-shot per tick).
package actor

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"
)

// Job is a unit of work submitted to a partition. Key determines which
// partition (and therefore which single goroutine) executes it — all jobs
// for the same key run strictly one-at-a-time, in submission order.
type Job struct {
	Key string
	Run func(ctx context.Context)
}

// Pool is a fixed set of partitions, each drained by exactly one
// goroutine. Jobs sharing a Key always land on the same partition, giving
// per-key serialization without a global lock.
type Pool struct {
	queues  []chan Job
	size    int
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// NewPool creates a Pool with `partitions` queues, each buffered to
// `queueDepth`. A typical size is small (4-16) — the point isn't
// parallelism, it's bounding lock contention while preserving per-key order.
func NewPool(partitions, queueDepth int) *Pool {
	if partitions < 1 {
		partitions = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pool{queues: make([]chan Job, partitions), size: partitions}
	for i := range p.queues {
		p.queues[i] = make(chan Job, queueDepth)
	}
	return p
}

// Start launches one worker goroutine per partition. Safe to call once;
// subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i, q := range p.queues {
		p.wg.Add(1)
		go p.worker(ctx, i, q)
	}
}

func (p *Pool) worker(ctx context.Context, idx int, q chan Job) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Str("key", job.Key).Int("partition", idx).
							Msg("actor partition job panicked")
					}
				}()
				job.Run(ctx)
			}()
		}
	}
}

// Submit enqueues a job on the partition owned by job.Key. It blocks if
// that partition's queue is full — callers that need a non-blocking
// submit should select on ctx.Done() alongside this call.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	q := p.queues[partitionFor(job.Key, p.size)]
	select {
	case q <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels all workers and waits for them to drain their current job.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func partitionFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % n
}

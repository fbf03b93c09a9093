// Package queue implements the bounded FIFO that jobs park in while every
// credential slot is busy. Each waiter holds a one-shot channel; exactly one
// result is ever delivered, whether the slot arrives, the timer fires, the
// entry is cancelled, or the queue is cleared at shutdown.
package queue

import (
	"sync"
	"time"

	"github.com/glmproxy/glmproxy/internal/core/domain"
	"github.com/glmproxy/glmproxy/internal/logger"
)

type entry struct {
	requestID  string
	enqueuedAt time.Time
	done       chan domain.QueueResult
	timer      *time.Timer
}

// Queue is a bounded FIFO of waiters. Slots are signalled in enqueue order;
// timeouts fire on wall-clock and may resolve out of order.
type Queue struct {
	mu      sync.Mutex
	entries []*entry
	byID    map[string]*entry
	maxSize int
	closed  bool
	logger  *logger.StyledLogger

	// counters, guarded by mu
	peakSize      int
	totalEnqueued uint64
	totalDequeued uint64
	totalTimedOut uint64
	totalRejected uint64
	totalWaited   time.Duration
}

func NewQueue(maxSize int, log *logger.StyledLogger) *Queue {
	return &Queue{
		entries: make([]*entry, 0, maxSize),
		byID:    make(map[string]*entry, maxSize),
		maxSize: maxSize,
		logger:  log,
	}
}

// Enqueue inserts a waiter and arms its timeout. A full or closed queue
// resolves synchronously with rejected_full / shutdown.
func (q *Queue) Enqueue(requestID string, timeout time.Duration) <-chan domain.QueueResult {
	done := make(chan domain.QueueResult, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- domain.QueueResult{Outcome: domain.QueueShutdown}
		return done
	}
	if len(q.entries) >= q.maxSize {
		q.totalRejected++
		q.mu.Unlock()
		done <- domain.QueueResult{Outcome: domain.QueueRejectedFull}
		return done
	}

	e := &entry{
		requestID:  requestID,
		enqueuedAt: time.Now(),
		done:       done,
	}
	e.timer = time.AfterFunc(timeout, func() { q.expire(e) })

	q.entries = append(q.entries, e)
	q.byID[requestID] = e
	q.totalEnqueued++
	if len(q.entries) > q.peakSize {
		q.peakSize = len(q.entries)
	}
	q.mu.Unlock()

	return done
}

// SignalSlotAvailable wakes the head waiter. Returns true iff one was waiting.
func (q *Queue) SignalSlotAvailable() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return false
	}

	e := q.entries[0]
	q.removeLocked(e)
	e.timer.Stop()

	waited := time.Since(e.enqueuedAt)
	q.totalDequeued++
	q.totalWaited += waited

	e.done <- domain.QueueResult{Outcome: domain.QueueGranted, Waited: waited}
	return true
}

// Cancel removes a waiter; returns false if it already resolved.
func (q *Queue) Cancel(requestID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[requestID]
	if !ok {
		return false
	}
	q.removeLocked(e)
	e.timer.Stop()
	e.done <- domain.QueueResult{Outcome: domain.QueueCancelled, Waited: time.Since(e.enqueuedAt)}
	return true
}

// Clear resolves every outstanding waiter with the given reason and, for
// shutdown, refuses further enqueues.
func (q *Queue) Clear(reason domain.QueueOutcome) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		e.timer.Stop()
		delete(q.byID, e.requestID)
		e.done <- domain.QueueResult{Outcome: reason, Waited: time.Since(e.enqueuedAt)}
	}
	cleared := len(q.entries)
	q.entries = q.entries[:0]

	if reason == domain.QueueShutdown {
		q.closed = true
	}

	if q.logger != nil && cleared > 0 {
		q.logger.InfoWithCount("Cleared queue waiters", cleared, "reason", string(reason))
	}
}

// Position returns the 1-indexed queue position, or -1 when absent.
func (q *Queue) Position(requestID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.requestID == requestID {
			return i + 1
		}
	}
	return -1
}

// Stats snapshots the queue counters.
func (q *Queue) Stats() domain.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := domain.QueueStats{
		Current:       len(q.entries),
		Max:           q.maxSize,
		PeakSize:      q.peakSize,
		TotalEnqueued: q.totalEnqueued,
		TotalDequeued: q.totalDequeued,
		TotalTimedOut: q.totalTimedOut,
		TotalRejected: q.totalRejected,
	}
	if q.maxSize > 0 {
		stats.PercentUsed = float64(len(q.entries)) / float64(q.maxSize) * 100
	}
	if len(q.entries) > 0 {
		stats.OldestWait = time.Since(q.entries[0].enqueuedAt)
	}
	if q.totalDequeued > 0 {
		stats.AvgWait = q.totalWaited / time.Duration(q.totalDequeued)
	}
	return stats
}

// expire resolves a waiter whose timer fired. The entry may already have
// been granted or cancelled; the byID check makes the race harmless.
func (q *Queue) expire(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, ok := q.byID[e.requestID]
	if !ok || current != e {
		return
	}
	q.removeLocked(e)
	q.totalTimedOut++
	e.done <- domain.QueueResult{Outcome: domain.QueueTimedOut, Waited: time.Since(e.enqueuedAt)}
}

func (q *Queue) removeLocked(target *entry) {
	delete(q.byID, target.requestID)
	for i, e := range q.entries {
		if e == target {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glmproxy/glmproxy/internal/core/domain"
)

func TestEnqueueThenSignalResolvesGranted(t *testing.T) {
	q := NewQueue(10, nil)

	done := q.Enqueue("req-1", time.Second)
	require.True(t, q.SignalSlotAvailable())

	result := <-done
	assert.Equal(t, domain.QueueGranted, result.Outcome)
}

func TestSignalWithNoWaiters(t *testing.T) {
	q := NewQueue(10, nil)
	assert.False(t, q.SignalSlotAvailable())
}

func TestFIFOOrder(t *testing.T) {
	q := NewQueue(10, nil)

	var chans []<-chan domain.QueueResult
	for i := 0; i < 5; i++ {
		chans = append(chans, q.Enqueue(fmt.Sprintf("req-%d", i), time.Minute))
	}

	for i := 0; i < 5; i++ {
		require.True(t, q.SignalSlotAvailable())
		select {
		case r := <-chans[i]:
			assert.Equal(t, domain.QueueGranted, r.Outcome, "waiter %d", i)
		default:
			t.Fatalf("waiter %d not resolved in FIFO order", i)
		}
	}
}

func TestRejectedFullIsSynchronous(t *testing.T) {
	q := NewQueue(2, nil)
	q.Enqueue("a", time.Minute)
	q.Enqueue("b", time.Minute)

	done := q.Enqueue("c", time.Minute)
	select {
	case r := <-done:
		assert.Equal(t, domain.QueueRejectedFull, r.Outcome)
	default:
		t.Fatal("expected synchronous rejection")
	}

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.TotalRejected)
	assert.Equal(t, 2, stats.Current)
}

func TestTimeout(t *testing.T) {
	q := NewQueue(10, nil)

	done := q.Enqueue("req-1", 20*time.Millisecond)
	select {
	case r := <-done:
		assert.Equal(t, domain.QueueTimedOut, r.Outcome)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	// the timed-out waiter is gone; a signal finds nobody
	assert.False(t, q.SignalSlotAvailable())
	assert.Equal(t, uint64(1), q.Stats().TotalTimedOut)
}

func TestCancel(t *testing.T) {
	q := NewQueue(10, nil)

	done := q.Enqueue("req-1", time.Minute)
	require.True(t, q.Cancel("req-1"))
	assert.False(t, q.Cancel("req-1"))

	r := <-done
	assert.Equal(t, domain.QueueCancelled, r.Outcome)
}

func TestClearShutdown(t *testing.T) {
	q := NewQueue(10, nil)

	a := q.Enqueue("a", time.Minute)
	b := q.Enqueue("b", time.Minute)

	q.Clear(domain.QueueShutdown)

	assert.Equal(t, domain.QueueShutdown, (<-a).Outcome)
	assert.Equal(t, domain.QueueShutdown, (<-b).Outcome)

	// closed queue refuses new waiters
	c := q.Enqueue("c", time.Minute)
	assert.Equal(t, domain.QueueShutdown, (<-c).Outcome)
}

func TestPosition(t *testing.T) {
	q := NewQueue(10, nil)

	q.Enqueue("a", time.Minute)
	q.Enqueue("b", time.Minute)

	assert.Equal(t, 1, q.Position("a"))
	assert.Equal(t, 2, q.Position("b"))
	assert.Equal(t, -1, q.Position("missing"))

	q.SignalSlotAvailable()
	assert.Equal(t, 1, q.Position("b"))
}

func TestStats(t *testing.T) {
	q := NewQueue(4, nil)

	q.Enqueue("a", time.Minute)
	q.Enqueue("b", time.Minute)
	q.SignalSlotAvailable()

	stats := q.Stats()
	assert.Equal(t, 1, stats.Current)
	assert.Equal(t, 4, stats.Max)
	assert.Equal(t, 2, stats.PeakSize)
	assert.Equal(t, uint64(2), stats.TotalEnqueued)
	assert.Equal(t, uint64(1), stats.TotalDequeued)
	assert.InDelta(t, 25.0, stats.PercentUsed, 0.01)
	assert.GreaterOrEqual(t, stats.OldestWait, time.Duration(0))
}

func TestTimerStoppedAfterGrant(t *testing.T) {
	q := NewQueue(10, nil)

	done := q.Enqueue("req-1", 30*time.Millisecond)
	require.True(t, q.SignalSlotAvailable())

	r := <-done
	require.Equal(t, domain.QueueGranted, r.Outcome)

	// wait past the timeout; no second result may arrive
	time.Sleep(60 * time.Millisecond)
	select {
	case r := <-done:
		t.Fatalf("unexpected second result: %v", r.Outcome)
	default:
	}
}

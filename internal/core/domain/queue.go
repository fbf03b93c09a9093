package domain

import "time"

// QueueOutcome is the resolution of one queue wait.
type QueueOutcome string

const (
	QueueGranted      QueueOutcome = "granted"
	QueueTimedOut     QueueOutcome = "timeout"
	QueueCancelled    QueueOutcome = "cancelled"
	QueueShutdown     QueueOutcome = "shutdown"
	QueueRejectedFull QueueOutcome = "rejected_full"
)

// QueueResult is delivered exactly once per waiter.
type QueueResult struct {
	Outcome QueueOutcome
	Waited  time.Duration
}

// QueueStats is the queue's observability snapshot.
type QueueStats struct {
	Current       int           `json:"current"`
	Max           int           `json:"max"`
	PercentUsed   float64       `json:"percentUsed"`
	OldestWait    time.Duration `json:"oldestWaitMs"`
	AvgWait       time.Duration `json:"avgWaitMs"`
	PeakSize      int           `json:"peakSize"`
	TotalEnqueued uint64        `json:"totalEnqueued"`
	TotalDequeued uint64        `json:"totalDequeued"`
	TotalTimedOut uint64        `json:"totalTimedOut"`
	TotalRejected uint64        `json:"totalRejected"`
}

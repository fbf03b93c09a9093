// Package retry orchestrates the dispatch attempt loop: route a model,
// acquire a credential, send, classify, then retry, queue, or fail. All
// shared mutation goes through the key manager's and router's own locks, so
// any number of jobs can run the loop concurrently.
package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/glmproxy/glmproxy/internal/config"
	"github.com/glmproxy/glmproxy/internal/core/domain"
	"github.com/glmproxy/glmproxy/internal/core/ports"
	"github.com/glmproxy/glmproxy/internal/logger"
	"github.com/glmproxy/glmproxy/internal/util"
)

const backoffJitterSpread = 0.5 // uniform(0.5, 1.5)

// Observer receives dispatch lifecycle events. The app layer wires this to
// the Prometheus collectors; a nil observer is valid.
type Observer interface {
	ObserveDecision(decision *domain.RouteDecision)
	ObserveFailover()
	ObserveOutcome(outcome domain.Outcome, latency time.Duration)
	ObserveQueueWait(waited time.Duration)
}

// Controller implements the attempt loop from one downstream request's
// point of view.
type Controller struct {
	keys     ports.KeyManager
	router   ports.ModelRouter
	queue    ports.WaitQueue
	cooldown ports.CooldownEngine
	client   ports.UpstreamClient

	maxRetries   int
	queueTimeout time.Duration
	baseDelay    time.Duration
	maxDelay     time.Duration

	observer Observer
	logger   *logger.StyledLogger
}

func NewController(
	dispatch config.DispatchConfig,
	keys ports.KeyManager,
	router ports.ModelRouter,
	queue ports.WaitQueue,
	cooldown ports.CooldownEngine,
	client ports.UpstreamClient,
	observer Observer,
	log *logger.StyledLogger,
) *Controller {
	return &Controller{
		keys:         keys,
		router:       router,
		queue:        queue,
		cooldown:     cooldown,
		client:       client,
		maxRetries:   dispatch.MaxRetries,
		queueTimeout: dispatch.GetQueueTimeout(),
		baseDelay:    dispatch.GetBaseDelay(),
		maxDelay:     dispatch.GetMaxDelay(),
		observer:     observer,
		logger:       log,
	}
}

// Dispatch drives a job to completion. A nil return means a success (or an
// aborted/failed stream that already wrote bytes, where nothing more can be
// surfaced); otherwise the DispatchError carries the status and body for the
// canonical error response.
func (c *Controller) Dispatch(ctx context.Context, job *domain.Job, w http.ResponseWriter) *domain.DispatchError {
	rlog := c.logger
	if rlog != nil {
		rlog = rlog.WithRequestID(job.ID)
	}

	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.NewDispatchError(domain.OutcomeClientAborted, "request context done before attempt %d", attempt)
		}

		decision, err := c.router.SelectModel(job, job.AttemptedModels)
		if err != nil {
			return domain.NewDispatchError(domain.OutcomeExhaustedModels, "no routable model: %v", err)
		}
		// honour the (provider, model) pool window before spending a slot
		if remaining := c.cooldown.RemainingFor(decision.Provider, decision.SelectedModel); remaining > 0 {
			if rlog != nil {
				rlog.Debug("Pool cooling, waiting before dispatch",
					"provider", decision.Provider, "model", decision.SelectedModel,
					"remaining_ms", remaining.Milliseconds())
			}
			if !sleepCtx(ctx, remaining) {
				return domain.NewDispatchError(domain.OutcomeClientAborted, "client gone during pool cooldown")
			}
		}

		grant := c.keys.AcquireKey(job.AttemptedCredentials, decision.Provider)
		if grant == nil {
			if derr := c.waitForSlot(ctx, job, rlog); derr != nil {
				return derr
			}
			attempt-- // a granted slot does not consume a retry
			continue
		}

		// observed only once a grant is held, so queue re-selections and
		// parked iterations never inflate the decision counters; the
		// failover condition matches the router's own stats
		if c.observer != nil {
			c.observer.ObserveDecision(decision)
			if len(job.AttemptedModels) > 0 {
				c.observer.ObserveFailover()
			}
		}

		job.MarkAttempt(grant.ID(), decision.SelectedModel)
		if rlog != nil {
			rlog.InfoWithModel("Dispatching to", decision.SelectedModel,
				"provider", decision.Provider, "credential", grant.ID(), "attempt", attempt)
		}

		result := c.client.Send(ctx, job, grant, decision, w)
		c.cooldown.RecordHeaders(decision.Provider, decision.SelectedModel, result.Headers)
		if c.observer != nil {
			c.observer.ObserveOutcome(result.Outcome, result.Latency)
		}

		switch {
		case result.Outcome == domain.OutcomeSuccess:
			c.keys.RecordSuccess(grant, result.Latency)
			c.queue.SignalSlotAvailable()
			return nil

		case result.Outcome == domain.OutcomeRateLimited:
			c.keys.RecordRateLimit(grant, result.Headers.RetryAfter)
			c.queue.SignalSlotAvailable()

			hit := c.cooldown.RecordHit(decision.Provider, decision.SelectedModel)
			c.router.RecordModelCooldown(decision.SelectedModel, domain.ModelCooldownOpts{
				BurstDampened: hit.WasAlreadyBlocked,
			})

			if job.ModelSwitchCount < c.router.MaxModelSwitches() {
				job.ModelSwitchCount++
				continue
			}
			// switch budget exhausted: stay on this model with fresh
			// credentials rather than failing outright
			delete(job.AttemptedModels, decision.SelectedModel)
			if !c.backoff(ctx, attempt) {
				return domain.NewDispatchError(domain.OutcomeClientAborted, "client gone during backoff")
			}
			continue

		case result.Outcome == domain.OutcomeClientAborted:
			c.keys.RecordFailure(grant, result.Outcome)
			c.queue.SignalSlotAvailable()
			if result.Streamed {
				return nil
			}
			return domain.NewDispatchError(domain.OutcomeClientAborted, "client disconnected")

		case !result.Outcome.IsRetryable():
			// auth, permission and other 4xx outcomes surface as-is with
			// the upstream's own error body when one was captured
			c.keys.RecordFailure(grant, result.Outcome)
			c.queue.SignalSlotAvailable()
			return &domain.DispatchError{
				Outcome: result.Outcome,
				Message: "upstream rejected the request",
				Body:    result.Body,
				Status:  terminalStatus(result),
			}

		default:
			// transient wire or 5xx failure
			c.keys.RecordFailure(grant, result.Outcome)
			c.queue.SignalSlotAvailable()
			if result.Streamed {
				// bytes already reached the client; a retry would corrupt
				// the stream, and an error body is no longer possible
				if rlog != nil {
					rlog.Warn("Stream failed mid-flight", "outcome", string(result.Outcome))
				}
				return nil
			}
			if rlog != nil {
				rlog.WarnWithCredential("Attempt failed on", grant.ID(),
					"outcome", string(result.Outcome), "attempt", attempt)
			}
			// moving to another model costs switch budget here too; once
			// spent, stay on this model with fresh credentials
			if job.ModelSwitchCount < c.router.MaxModelSwitches() {
				job.ModelSwitchCount++
			} else {
				delete(job.AttemptedModels, decision.SelectedModel)
			}
			if !c.backoff(ctx, attempt) {
				return domain.NewDispatchError(domain.OutcomeClientAborted, "client gone during backoff")
			}
		}
	}

	return domain.NewDispatchError(domain.OutcomeRetriesExhausted,
		"all %d attempts failed", c.maxRetries+1)
}

// waitForSlot parks the job in the queue until a credential slot frees up.
func (c *Controller) waitForSlot(ctx context.Context, job *domain.Job, rlog *logger.StyledLogger) *domain.DispatchError {
	if rlog != nil {
		rlog.Debug("All credentials busy, queueing", "queue_timeout_ms", c.queueTimeout.Milliseconds())
	}

	ch := c.queue.Enqueue(job.ID, c.queueTimeout)
	select {
	case res := <-ch:
		if c.observer != nil {
			c.observer.ObserveQueueWait(res.Waited)
		}
		switch res.Outcome {
		case domain.QueueGranted:
			return nil
		case domain.QueueTimedOut:
			return domain.NewDispatchError(domain.OutcomeQueueTimeout,
				"no credential freed within %s", c.queueTimeout)
		case domain.QueueRejectedFull:
			return domain.NewDispatchError(domain.OutcomeQueueFull, "request queue full")
		case domain.QueueShutdown:
			return domain.NewDispatchError(domain.OutcomeQueueShutdown, "server shutting down")
		default:
			return domain.NewDispatchError(domain.OutcomeQueueCancelled, "queue wait cancelled")
		}
	case <-ctx.Done():
		c.queue.Cancel(job.ID)
		return domain.NewDispatchError(domain.OutcomeClientAborted, "client gone while queued")
	}
}

// backoff sleeps the exponential jittered delay for this attempt. Returns
// false when the context ended first.
func (c *Controller) backoff(ctx context.Context, attempt int) bool {
	delay := util.CalculateExponentialBackoff(attempt, c.baseDelay, c.maxDelay, backoffJitterSpread)
	return sleepCtx(ctx, delay)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// terminalStatus picks the downstream status for a non-retryable outcome,
// preferring the upstream's actual status when one was seen.
func terminalStatus(result *ports.UpstreamResult) int {
	if result.StatusCode != 0 {
		return result.StatusCode
	}
	return result.Outcome.HTTPStatus()
}

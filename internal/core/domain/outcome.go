package domain

import "net/http"

// Outcome classifies the result of a dispatch attempt. The names appear
// verbatim in logs, stats and cooldown decisions, so treat them as wire-stable.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"

	// Upstream HTTP outcomes
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeServerError     Outcome = "server_error"
	OutcomeAuthError       Outcome = "auth_error"
	OutcomePermissionError Outcome = "permission_error"
	OutcomeClientError     Outcome = "client_error"

	// Wire-level outcomes
	OutcomeTimeout              Outcome = "timeout"
	OutcomeSocketHangup         Outcome = "socket_hangup"
	OutcomeConnectionRefused    Outcome = "connection_refused"
	OutcomeBrokenPipe           Outcome = "broken_pipe"
	OutcomeConnectionAborted    Outcome = "connection_aborted"
	OutcomeStreamPrematureClose Outcome = "stream_premature_close"
	OutcomeHTTPParseError       Outcome = "http_parse_error"

	// Downstream disconnected mid-flight. Never counted as a credential failure.
	OutcomeClientAborted Outcome = "client_aborted"

	// Internal terminal outcomes
	OutcomeQueueTimeout     Outcome = "queue_timeout"
	OutcomeQueueFull        Outcome = "queue_full"
	OutcomeQueueCancelled   Outcome = "queue_cancelled"
	OutcomeQueueShutdown    Outcome = "queue_shutdown"
	OutcomeRetriesExhausted Outcome = "retries_exhausted"
	OutcomeExhaustedModels  Outcome = "exhausted_models"
)

// IsRetryable reports whether the dispatcher may retry this outcome against
// another credential or model.
func (o Outcome) IsRetryable() bool {
	switch o {
	case OutcomeRateLimited, OutcomeServerError,
		OutcomeTimeout, OutcomeSocketHangup, OutcomeConnectionRefused,
		OutcomeBrokenPipe, OutcomeConnectionAborted,
		OutcomeStreamPrematureClose, OutcomeHTTPParseError:
		return true
	default:
		return false
	}
}

// IsCredentialFailure reports whether the outcome should count against the
// credential's circuit breaker. Rate limits and downstream aborts do not.
func (o Outcome) IsCredentialFailure() bool {
	switch o {
	case OutcomeServerError, OutcomeAuthError,
		OutcomeTimeout, OutcomeSocketHangup, OutcomeConnectionRefused,
		OutcomeBrokenPipe, OutcomeConnectionAborted,
		OutcomeStreamPrematureClose, OutcomeHTTPParseError:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a terminal outcome to the status surfaced downstream.
func (o Outcome) HTTPStatus() int {
	switch o {
	case OutcomeSuccess:
		return http.StatusOK
	case OutcomeAuthError:
		return http.StatusUnauthorized
	case OutcomePermissionError:
		return http.StatusForbidden
	case OutcomeClientError:
		return http.StatusBadRequest
	case OutcomeQueueTimeout:
		return http.StatusRequestTimeout
	case OutcomeRateLimited:
		return http.StatusTooManyRequests
	case OutcomeQueueFull, OutcomeQueueCancelled, OutcomeQueueShutdown,
		OutcomeRetriesExhausted, OutcomeExhaustedModels:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// ClassifyStatus maps an upstream HTTP status code to an outcome.
// 408 and 425 are treated as retryable timeouts, not client errors.
func ClassifyStatus(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	case status == http.StatusUnauthorized:
		return OutcomeAuthError
	case status == http.StatusForbidden:
		return OutcomePermissionError
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly:
		return OutcomeTimeout
	case status >= 400 && status < 500:
		return OutcomeClientError
	default:
		return OutcomeServerError
	}
}

package upstream

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/glmproxy/glmproxy/internal/core/domain"
)

// classifyError maps a wire error to an outcome. The downstream context is
// checked first: when the client went away, the outcome is client_aborted no
// matter what the transport surfaced, and the attempt never counts as a
// credential failure.
func classifyError(err error, clientCtx context.Context) domain.Outcome {
	if clientCtx != nil {
		if errors.Is(clientCtx.Err(), context.Canceled) {
			return domain.OutcomeClientAborted
		}
		if errors.Is(clientCtx.Err(), context.DeadlineExceeded) {
			return domain.OutcomeTimeout
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.OutcomeTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return domain.OutcomeConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return domain.OutcomeSocketHangup
	}
	if errors.Is(err, syscall.EPIPE) {
		return domain.OutcomeBrokenPipe
	}
	if errors.Is(err, syscall.ECONNABORTED) {
		return domain.OutcomeConnectionAborted
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.OutcomeTimeout
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return domain.OutcomeStreamPrematureClose
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "connection refused"):
		return domain.OutcomeConnectionRefused
	case strings.Contains(errStr, "connection reset"):
		return domain.OutcomeSocketHangup
	case strings.Contains(errStr, "broken pipe"):
		return domain.OutcomeBrokenPipe
	case strings.Contains(errStr, "malformed HTTP"), strings.Contains(errStr, "bad Content-Length"):
		return domain.OutcomeHTTPParseError
	}
	return domain.OutcomeSocketHangup
}

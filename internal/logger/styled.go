package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/glmproxy/glmproxy/internal/core/domain"
	"github.com/glmproxy/glmproxy/theme"
)

// StyledLogger wraps slog.Logger with Theme-aware formatting
type StyledLogger struct {
	logger *slog.Logger
	Theme  *theme.Theme
}

func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		Theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Counts}.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithCredential(msg string, credentialID string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Credential}.Sprint(credentialID))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithCredential(msg string, credentialID string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Credential}.Sprint(credentialID))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithModel(msg string, model string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Model}.Sprint(model))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithModel(msg string, model string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Model}.Sprint(model))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithProvider(msg string, provider string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Provider}.Sprint(provider))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnWithProvider(msg string, provider string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.Theme.Provider}.Sprint(provider))
	sl.logger.Warn(styledMsg, args...)
}

// InfoCircuitState renders a breaker transition with the state coloured by
// whether traffic can flow again.
func (sl *StyledLogger) InfoCircuitState(msg string, credentialID string, state domain.CircuitState, args ...any) {
	var stateColor pterm.Color
	var stateText string

	switch state {
	case domain.CircuitClosed:
		stateColor = sl.Theme.CircuitClosed
		stateText = "Closed"
	case domain.CircuitOpen:
		stateColor = sl.Theme.CircuitOpen
		stateText = "Open"
	case domain.CircuitHalfOpen:
		stateColor = sl.Theme.Cooldown
		stateText = "Half-Open"
	default:
		stateColor = sl.Theme.Counts
		stateText = string(state)
	}
	styledMsg := fmt.Sprintf("%s %s is %s", msg,
		pterm.Style{sl.Theme.Credential}.Sprint(credentialID),
		pterm.Style{stateColor}.Sprint(stateText))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

func (sl *StyledLogger) WithRequestID(requestID string) *StyledLogger {
	return sl.With("request_id", requestID)
}

func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		Theme:  sl.Theme,
	}
}

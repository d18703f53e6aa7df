package notifier

import (
	"context"
	"fmt"
	"time"

	"SignalFlow/pkg/logger"
)

// Sender delivers one rendered message to an external channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// RetryAfterError asks the caller to wait at least After before the next attempt.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// LogSender writes messages to the log. Used when no bot token is configured.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, text string) error {
	s.log.Info("notification", logger.String("text", text))
	return nil
}

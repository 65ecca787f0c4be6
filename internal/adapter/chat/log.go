package chat

import (
	"log/slog"

	"github.com/feedloom/curator/internal/domain"
)

// LogPublisher writes messages to the process log instead of a chat backend.
// Wired when no chat token is configured, so dev runs exercise the whole
// pipeline without a Discord guild.
type LogPublisher struct{}

// NewLogPublisher returns the log-only publisher.
func NewLogPublisher() LogPublisher { return LogPublisher{} }

// Send logs the message and reports success.
func (LogPublisher) Send(ctx domain.Context, message string) error {
	slog.InfoContext(ctx, "publish (log only)", slog.String("message", message))
	return nil
}

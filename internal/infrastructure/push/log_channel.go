package push

import (
	"context"
	"log/slog"

	"github.com/rezkam/flow7/internal/application/dispatch"
)

// LogChannel is the delivery channel used when no push transport is
// configured: deliveries are logged and reported as successful. Useful
// for local development and as a safe default.
type LogChannel struct{}

// NewLogChannel creates a LogChannel.
func NewLogChannel() *LogChannel { return &LogChannel{} }

// SendSingle logs the would-be delivery.
func (c *LogChannel) SendSingle(ctx context.Context, token string, msg dispatch.Message) error {
	slog.InfoContext(ctx, "notification (log only)",
		"token", token, "title", msg.Title, "body", msg.Body, "data", msg.Data)
	return nil
}

// SendMulticast logs one line per token and reports full success.
func (c *LogChannel) SendMulticast(ctx context.Context, tokens []string, msg dispatch.Message) (*dispatch.MulticastResult, error) {
	for _, token := range tokens {
		slog.InfoContext(ctx, "notification (log only)",
			"token", token, "title", msg.Title, "body", msg.Body, "data", msg.Data)
	}
	return &dispatch.MulticastResult{SuccessCount: len(tokens)}, nil
}

package email

import (
	"context"

	"github.com/jwalitptl/towndir/pkg/logger"
)

// LogTransport accepts every valid message and only logs it. Used for local
// runs without a relay.
type LogTransport struct {
	log *logger.Logger
}

func NewLogTransport(log *logger.Logger) *LogTransport {
	return &LogTransport{log: log}
}

func (t *LogTransport) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	t.log.WithContext(ctx).Info("email accepted by log transport",
		"to", msg.To,
		"subject", msg.Subject,
		"html_bytes", len(msg.HTML),
		"text_bytes", len(msg.Text),
	)
	return nil
}

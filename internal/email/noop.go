package email

import (
	"context"

	"go.uber.org/zap"
)

// LogSender records messages in the log instead of delivering them. Bodies
// are omitted because invitation bodies carry redeemable tokens.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the recipient and subject.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("email not delivered (no smtp host configured)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Body)),
	)
	return nil
}

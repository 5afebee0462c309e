package sender

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LogSender writes notifications to the log. Used when no push channel is
// configured and as a local fallback.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Notify(_ context.Context, n Notification) (SendResult, error) {
	l.logger.Info("Notification",
		zap.String("kind", string(n.Kind)),
		zap.String("run_id", n.RunID),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
		zap.Int("priority", int(n.Priority)),
	)
	return SendResult{
		MessageID: fmt.Sprintf("log-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}

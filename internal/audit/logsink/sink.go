package logsink

import (
	"context"

	"go.uber.org/zap"

	"github.com/smartbank/ledger-core/internal/interfaces"
)

// Sink writes audit events to the application log. Used when no Kafka brokers
// are configured.
type Sink struct {
	logger *zap.Logger
}

func NewSink(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger}
}

func (s *Sink) Record(ctx context.Context, principalID, action string, details map[string]any) error {
	s.logger.Info("audit",
		zap.String("principal_id", principalID),
		zap.String("action", action),
		zap.Any("details", details),
	)
	return nil
}

var _ interfaces.AuditSink = (*Sink)(nil)

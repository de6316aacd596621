package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartbank/ledger-core/internal/interfaces"
	"github.com/smartbank/ledger-core/internal/models"
)

// Sink collects audit events in memory for tests.
type Sink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Record(ctx context.Context, principalID, action string, details map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, models.AuditEvent{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Action:      action,
		Details:     details,
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// Events returns a copy of everything recorded so far.
func (s *Sink) Events() []models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

var _ interfaces.AuditSink = (*Sink)(nil)

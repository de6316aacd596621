package models

import "time"

// AuditEvent records who did what. Events are write-only from the engine's
// point of view; nothing in the ledger core ever reads them back.
type AuditEvent struct {
	ID          string         `json:"id"`
	PrincipalID string         `json:"principal_id"`
	Action      string         `json:"action"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

package interfaces

import "context"

// AuditSink records who did what. The engine calls it fire-and-forget once per
// completed or rejected operation; a failing sink never rolls back a financial
// mutation.
type AuditSink interface {
	Record(ctx context.Context, principalID, action string, details map[string]any) error
}

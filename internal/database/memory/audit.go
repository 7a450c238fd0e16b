package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/kozaktomas/face-gallery/internal/constants"
	"github.com/kozaktomas/face-gallery/internal/database"
)

// AuditLog is an in-memory append-only database.AuditLog.
type AuditLog struct {
	mu      sync.RWMutex
	records []database.AuditRecord
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append stores a record.
func (a *AuditLog) Append(ctx context.Context, rec database.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

// List returns records passing the filter, newest first. Records with equal
// timestamps are returned in reverse append order.
func (a *AuditLog) List(ctx context.Context, filter database.AuditFilter) ([]database.AuditRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultAuditLimit
	}
	limit = min(limit, constants.MaxAuditLimit)

	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []database.AuditRecord
	for i := len(a.records) - 1; i >= 0; i-- {
		if filter.Matches(a.records[i]) {
			out = append(out, a.records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DecidedAt.After(out[j].DecidedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (a *AuditLog) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Register makes this log available as the "memory" audit backend.
func (a *AuditLog) Register() {
	database.RegisterAuditBackend("memory", func() database.AuditLog { return a })
}

package mariadb

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/kozaktomas/face-gallery/internal/constants"
	"github.com/kozaktomas/face-gallery/internal/database"
)

const createAuditTable = `
CREATE TABLE IF NOT EXISTS audit_records (
	requested_at      DATETIME(6) NOT NULL,
	request_id        VARCHAR(64) NOT NULL,
	caller_id         VARCHAR(255) NOT NULL,
	query_fingerprint CHAR(64) NOT NULL,
	outcome           VARCHAR(32) NOT NULL,
	reason            VARCHAR(64) NOT NULL DEFAULT '',
	matched_person_id VARCHAR(64) NULL,
	distance          DOUBLE NULL,
	PRIMARY KEY (requested_at, request_id),
	KEY idx_audit_caller (caller_id, requested_at),
	KEY idx_audit_person (matched_person_id, requested_at)
)`

// EnsureSchema creates the audit table if it does not exist.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createAuditTable); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// AuditRepository is the MariaDB-backed append-only audit log
type AuditRepository struct {
	pool *Pool
}

// NewAuditRepository creates a new MariaDB audit repository
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append inserts a record. Timestamps are stored in UTC.
func (r *AuditRepository) Append(ctx context.Context, rec database.AuditRecord) error {
	var personID sql.NullString
	if rec.MatchedPersonID != "" {
		personID = sql.NullString{String: rec.MatchedPersonID, Valid: true}
	}
	var distance sql.NullFloat64
	if !math.IsInf(rec.Distance, 0) && !math.IsNaN(rec.Distance) {
		distance = sql.NullFloat64{Float64: rec.Distance, Valid: true}
	}

	_, err := r.pool.db.ExecContext(ctx, `
		INSERT INTO audit_records
			(requested_at, request_id, caller_id, query_fingerprint, outcome, reason, matched_person_id, distance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.DecidedAt.UTC(), rec.RequestID, rec.CallerID, rec.QueryFingerprint, string(rec.Outcome), rec.Reason, personID, distance)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// List returns records passing the filter, newest first. The DSN must set
// parseTime=true.
func (r *AuditRepository) List(ctx context.Context, filter database.AuditFilter) ([]database.AuditRecord, error) {
	var where []string
	var args []any

	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}
	if filter.CallerID != "" {
		where = append(where, "caller_id = ?")
		args = append(args, filter.CallerID)
	}
	if filter.PersonID != "" {
		where = append(where, "matched_person_id = ?")
		args = append(args, filter.PersonID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "requested_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where = append(where, "requested_at < ?")
		args = append(args, filter.Until.UTC())
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultAuditLimit
	}
	limit = min(limit, constants.MaxAuditLimit)

	query := `SELECT requested_at, request_id, caller_id, query_fingerprint, outcome, reason, matched_person_id, distance
		FROM audit_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY requested_at DESC, request_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []database.AuditRecord
	for rows.Next() {
		var rec database.AuditRecord
		var outcome string
		var personID sql.NullString
		var distance sql.NullFloat64
		if err := rows.Scan(&rec.DecidedAt, &rec.RequestID, &rec.CallerID, &rec.QueryFingerprint,
			&outcome, &rec.Reason, &personID, &distance); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Outcome = database.Outcome(outcome)
		rec.MatchedPersonID = personID.String
		rec.Distance = math.Inf(1)
		if distance.Valid {
			rec.Distance = distance.Float64
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/kozaktomas/face-gallery/internal/constants"
	"github.com/kozaktomas/face-gallery/internal/database"
)

// AuditRepository provides the PostgreSQL-backed append-only audit log
type AuditRepository struct {
	pool *Pool
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(pool *Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append inserts a record. An absent person id and an infinite distance are
// stored as NULL.
func (r *AuditRepository) Append(ctx context.Context, rec database.AuditRecord) error {
	var personID sql.NullString
	if rec.MatchedPersonID != "" {
		personID = sql.NullString{String: rec.MatchedPersonID, Valid: true}
	}
	var distance sql.NullFloat64
	if !math.IsInf(rec.Distance, 0) && !math.IsNaN(rec.Distance) {
		distance = sql.NullFloat64{Float64: rec.Distance, Valid: true}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_records
			(requested_at, request_id, caller_id, query_fingerprint, outcome, reason, matched_person_id, distance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.DecidedAt, rec.RequestID, rec.CallerID, rec.QueryFingerprint, string(rec.Outcome), rec.Reason, personID, distance)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// List returns records passing the filter, newest first
func (r *AuditRepository) List(ctx context.Context, filter database.AuditFilter) ([]database.AuditRecord, error) {
	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Outcome != "" {
		add("outcome = $%d", string(filter.Outcome))
	}
	if filter.CallerID != "" {
		add("caller_id = $%d", filter.CallerID)
	}
	if filter.PersonID != "" {
		add("matched_person_id = $%d", filter.PersonID)
	}
	if !filter.Since.IsZero() {
		add("requested_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("requested_at < $%d", filter.Until)
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
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY requested_at DESC, request_id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	return scanAuditRecords(rows)
}

func scanAuditRecords(rows *sql.Rows) ([]database.AuditRecord, error) {
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

package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// AuditLog implements domain.AuditStore on the same database file.
type AuditLog struct {
	d *DB
}

// Audit returns the audit log view of d.
func (d *DB) Audit() *AuditLog {
	return &AuditLog{d: d}
}

// Log appends an audit entry; detail is stored as JSON text.
func (a *AuditLog) Log(ctx context.Context, event string, detail map[string]any) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("sqlite: marshal audit detail: %w", err)
	}
	_, err = a.d.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, detail, created_at) VALUES (?, ?, ?)`,
		event, string(raw), formatTS(a.d.now()))
	if err != nil {
		return fmt.Errorf("sqlite: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns entries matching f, newest first.
func (a *AuditLog) List(ctx context.Context, f domain.AuditFilter) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	opts := f.ListOpts
	if f.Event != "" {
		query += " AND event = ?"
		args = append(args, f.Event)
	}
	if opts.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTS(*opts.Since))
	}
	if opts.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, formatTS(*opts.Until))
	}
	query += " ORDER BY created_at DESC, id DESC"
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := a.d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			raw, ts string
		)
		if err := rows.Scan(&e.ID, &e.Event, &raw, &ts); err != nil {
			return nil, fmt.Errorf("sqlite: scan audit entry: %w", err)
		}
		if e.CreatedAt, err = parseTS(ts); err != nil {
			return nil, err
		}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &e.Detail); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SetClock replaces the clock used for updated_at and audit timestamps.
func (d *DB) SetClock(now func() time.Time) {
	d.now = now
}

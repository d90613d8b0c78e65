package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zapcast/internal/models"
)

// AppendAuditEntry inserts one row into the append-only audit log.
// Insertion is the only mutation the audit log supports.
func (d *Database) AppendAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	detailJSON, err := json.Marshal(orEmptyDetail(e.Detail))
	if err != nil {
		return fmt.Errorf("failed to marshal audit detail: %w", err)
	}

	query := `
		INSERT INTO audit_log (action, entity_type, entity_id, actor, old_state, new_state, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			e.Action, e.EntityType, e.EntityID, e.Actor, e.OldState, e.NewState, string(detailJSON))
		if err != nil {
			return fmt.Errorf("failed to append audit entry: %w", err)
		}
		return nil
	}, "append audit entry")
}

// AuditQuery filters audit log reads for the reporting surface.
type AuditQuery struct {
	EntityType string
	EntityID   string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// QueryAuditEntries returns matching audit rows, newest first.
func (d *Database) QueryAuditEntries(ctx context.Context, q AuditQuery) ([]*models.AuditEntry, error) {
	query := "SELECT id, action, entity_type, entity_id, actor, old_state, new_state, detail, created_at FROM audit_log WHERE 1=1"
	var args []interface{}

	if q.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, q.EntityType)
	}
	if q.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, q.EntityID)
	}
	if !q.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, q.Until.UTC())
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var detailJSON string
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &e.EntityID, &e.Actor,
			&e.OldState, &e.NewState, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(detailJSON), &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit detail: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CleanupOldAuditEntries removes audit rows older than the retention
// window. Campaign and recipient rows are never deleted.
func (d *Database) CleanupOldAuditEntries(retentionDays int) error {
	query := `
		DELETE FROM audit_log
		WHERE created_at < datetime('now', '-' || ? || ' days')
	`
	if _, err := d.db.Exec(query, retentionDays); err != nil {
		return fmt.Errorf("failed to cleanup old audit entries: %w", err)
	}
	return nil
}

func orEmptyDetail(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

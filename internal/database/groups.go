package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"zapcast/internal/models"
)

// SaveTargetGroup inserts or replaces a target group definition.
func (d *Database) SaveTargetGroup(ctx context.Context, g *models.TargetGroup) error {
	query := `
		INSERT INTO target_groups (id, name, auto_approve)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, auto_approve = excluded.auto_approve
	`
	if _, err := d.db.ExecContext(ctx, query, g.ID, g.Name, g.AutoApprove); err != nil {
		return fmt.Errorf("failed to save target group: %w", err)
	}
	return nil
}

// GetTargetGroup retrieves a target group by ID; (nil, nil) when absent.
func (d *Database) GetTargetGroup(ctx context.Context, id string) (*models.TargetGroup, error) {
	query := `
		SELECT g.id, g.name, g.auto_approve, g.created_at, g.updated_at,
		       (SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id)
		FROM target_groups g WHERE g.id = ?
	`
	g := &models.TargetGroup{}
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&g.ID, &g.Name, &g.AutoApprove, &g.CreatedAt, &g.UpdatedAt, &g.MemberCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target group: %w", err)
	}
	return g, nil
}

// SaveGroupMembers replaces the membership of a group in one transaction.
func (d *Database) SaveGroupMembers(ctx context.Context, groupID string, members []models.GroupMember) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE group_id = ?", groupID); err != nil {
		return fmt.Errorf("failed to clear group members: %w", err)
	}

	query := "INSERT INTO group_members (group_id, phone_number, display_name, tags) VALUES (?, ?, ?, ?)"
	for _, m := range members {
		encryptedPhone, err := d.encryptor.EncryptForLookupIfEnabled(m.PhoneNumber)
		if err != nil {
			return fmt.Errorf("failed to encrypt phone number: %w", err)
		}
		tagsJSON, err := json.Marshal(orEmptyTags(m.Tags))
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, groupID, encryptedPhone, m.DisplayName, string(tagsJSON)); err != nil {
			return fmt.Errorf("failed to save group member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group members: %w", err)
	}
	return nil
}

// ListGroupMembers returns the members of a target group.
func (d *Database) ListGroupMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT group_id, phone_number, display_name, tags FROM group_members WHERE group_id = ? ORDER BY id",
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []models.GroupMember
	for rows.Next() {
		var m models.GroupMember
		var encryptedPhone, tagsJSON string
		if err := rows.Scan(&m.GroupID, &encryptedPhone, &m.DisplayName, &tagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		m.PhoneNumber, err = d.encryptor.DecryptIfEnabled(encryptedPhone)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt phone number: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func orEmptyTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

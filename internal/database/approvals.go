package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"zapcast/internal/errors"
	"zapcast/internal/models"
)

const decisionColumns = `id, campaign_id, approver, approver_role, status, reason,
	original_content, edited_content, decided_at, created_at, updated_at`

// SaveDecision inserts an approval decision. The UNIQUE(campaign_id,
// approver) constraint enforces at most one decision per pair; a
// violation surfaces as DUPLICATE_DECISION.
func (d *Database) SaveDecision(ctx context.Context, dec *models.ApprovalDecision) error {
	query := `
		INSERT INTO approval_decisions (
			id, campaign_id, approver, approver_role, status, reason,
			original_content, edited_content, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := d.db.ExecContext(ctx, query,
		dec.ID, dec.CampaignID, dec.Approver, dec.ApproverRole, dec.Status,
		dec.Reason, dec.OriginalContent, dec.EditedContent, dec.DecidedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errors.New(errors.ErrCodeDuplicateDecision,
				fmt.Sprintf("approver %s already decided campaign %s", dec.Approver, dec.CampaignID))
		}
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// GetDecision retrieves the decision of one approver on one campaign;
// (nil, nil) when absent.
func (d *Database) GetDecision(ctx context.Context, campaignID, approver string) (*models.ApprovalDecision, error) {
	row := d.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM approval_decisions WHERE campaign_id = ? AND approver = ?", decisionColumns),
		campaignID, approver)
	return scanDecision(row)
}

// ListDecisionsByCampaign returns all decisions recorded for a campaign.
func (d *Database) ListDecisionsByCampaign(ctx context.Context, campaignID string) ([]*models.ApprovalDecision, error) {
	rows, err := d.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM approval_decisions WHERE campaign_id = ? ORDER BY created_at", decisionColumns),
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.ApprovalDecision
	for rows.Next() {
		dec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, dec)
	}
	return decisions, rows.Err()
}

// HasApprovedDecision reports whether at least one approved decision
// exists for the campaign.
func (d *Database) HasApprovedDecision(ctx context.Context, campaignID string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM approval_decisions WHERE campaign_id = ? AND status = ?",
		campaignID, models.DecisionApproved).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count approved decisions: %w", err)
	}
	return n > 0, nil
}

func scanDecision(row rowScanner) (*models.ApprovalDecision, error) {
	dec := &models.ApprovalDecision{}
	var decidedAt sql.NullTime

	err := row.Scan(
		&dec.ID, &dec.CampaignID, &dec.Approver, &dec.ApproverRole, &dec.Status,
		&dec.Reason, &dec.OriginalContent, &dec.EditedContent, &decidedAt,
		&dec.CreatedAt, &dec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan decision: %w", err)
	}

	if decidedAt.Valid {
		t := decidedAt.Time
		dec.DecidedAt = &t
	}
	return dec, nil
}

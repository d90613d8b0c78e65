package database

import (
	"context"
	"database/sql"
	"fmt"

	"zapcast/internal/errors"
	"zapcast/internal/models"
)

const recipientColumns = `id, campaign_id, phone_number, display_name, status,
	transport_msg_id, last_error, send_attempts, queued_at,
	sent_at, delivered_at, read_at, failed_at, version, created_at, updated_at`

// SaveRecipients inserts the work items for a campaign in one transaction
// so a crash mid-enqueue never leaves a partially expanded recipient set.
func (d *Database) SaveRecipients(ctx context.Context, recipients []*models.Recipient) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO recipients (id, campaign_id, phone_number, display_name, status, queued_at, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
	`
	for _, r := range recipients {
		encryptedPhone, err := d.encryptor.EncryptForLookupIfEnabled(r.PhoneNumber)
		if err != nil {
			return fmt.Errorf("failed to encrypt phone number: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.CampaignID, encryptedPhone, r.DisplayName, r.Status, r.QueuedAt); err != nil {
			return fmt.Errorf("failed to save recipient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recipients: %w", err)
	}
	return nil
}

// GetRecipient retrieves a recipient by ID; (nil, nil) when absent.
func (d *Database) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	row := d.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM recipients WHERE id = ?", recipientColumns), id)
	return d.scanRecipient(row)
}

// GetRecipientByTransportMsgID resolves the recipient a delivery receipt
// belongs to; (nil, nil) when the transport ID is unknown.
func (d *Database) GetRecipientByTransportMsgID(ctx context.Context, transportMsgID string) (*models.Recipient, error) {
	row := d.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM recipients WHERE transport_msg_id = ?", recipientColumns), transportMsgID)
	return d.scanRecipient(row)
}

// UpdateRecipient writes back a mutated recipient with an optimistic
// version check.
func (d *Database) UpdateRecipient(ctx context.Context, r *models.Recipient) error {
	query := `
		UPDATE recipients SET
			status = ?, transport_msg_id = ?, last_error = ?, send_attempts = ?,
			sent_at = ?, delivered_at = ?, read_at = ?, failed_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := d.db.ExecContext(ctx, query,
		r.Status, r.TransportMsgID, r.LastError, r.SendAttempts,
		r.SentAt, r.DeliveredAt, r.ReadAt, r.FailedAt,
		r.ID, r.Version)
	if err != nil {
		return fmt.Errorf("failed to update recipient: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		existing, getErr := d.GetRecipient(ctx, r.ID)
		if getErr == nil && existing == nil {
			return errors.New(errors.ErrCodeNotFound, fmt.Sprintf("recipient not found: %s", r.ID))
		}
		return errors.New(errors.ErrCodeConcurrencyConflict,
			fmt.Sprintf("recipient %s was modified concurrently (version %d)", r.ID, r.Version))
	}

	r.Version++
	return nil
}

// ListRecipientsByCampaign returns all work items of a campaign in
// enqueue order.
func (d *Database) ListRecipientsByCampaign(ctx context.Context, campaignID string) ([]*models.Recipient, error) {
	rows, err := d.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM recipients WHERE campaign_id = ? ORDER BY queued_at, id", recipientColumns),
		campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()
	return d.collectRecipients(rows)
}

// ListUnsentRecipients returns the recipients of in-flight campaigns that
// still need dispatching; the queue is rebuilt from these rows on
// startup so no work item is lost across a process restart.
func (d *Database) ListUnsentRecipients(ctx context.Context) ([]*models.Recipient, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM recipients
		WHERE status IN (?, ?)
		  AND campaign_id IN (SELECT id FROM campaigns WHERE status IN (?, ?, ?))
		ORDER BY queued_at, id`, recipientColumns)

	rows, err := d.db.QueryContext(ctx, query,
		models.MessageStatusPending, models.MessageStatusSending,
		models.CampaignStatusApproved, models.CampaignStatusScheduled, models.CampaignStatusSending)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsent recipients: %w", err)
	}
	defer rows.Close()
	return d.collectRecipients(rows)
}

// CountRecipientsByStatus aggregates recipient statuses for a campaign.
func (d *Database) CountRecipientsByStatus(ctx context.Context, campaignID string) (map[models.MessageStatus]int, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM recipients WHERE campaign_id = ? GROUP BY status", campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to count recipients: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.MessageStatus]int)
	for rows.Next() {
		var status models.MessageStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan recipient count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (d *Database) collectRecipients(rows *sql.Rows) ([]*models.Recipient, error) {
	var recipients []*models.Recipient
	for rows.Next() {
		r, err := d.scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

func (d *Database) scanRecipient(row rowScanner) (*models.Recipient, error) {
	r := &models.Recipient{}
	var encryptedPhone string
	var sentAt, deliveredAt, readAt, failedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.CampaignID, &encryptedPhone, &r.DisplayName, &r.Status,
		&r.TransportMsgID, &r.LastError, &r.SendAttempts, &r.QueuedAt,
		&sentAt, &deliveredAt, &readAt, &failedAt, &r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan recipient: %w", err)
	}

	r.PhoneNumber, err = d.encryptor.DecryptIfEnabled(encryptedPhone)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt phone number: %w", err)
	}

	if sentAt.Valid {
		t := sentAt.Time
		r.SentAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		r.DeliveredAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		r.ReadAt = &t
	}
	if failedAt.Valid {
		t := failedAt.Time
		r.FailedAt = &t
	}

	return r, nil
}

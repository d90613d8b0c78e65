package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"zapcast/internal/errors"
	"zapcast/internal/migrations"
	"zapcast/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the durable store for campaigns, target groups, approval
// decisions, recipients, and the audit log. Each entity is independently
// crash-recoverable; the dispatch queue is rebuilt from recipient rows.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

const campaignColumns = `id, name, content, content_snapshot, group_id, channel, status,
	priority, send_immediately, scheduled_for, max_recipients, created_by, creator_role,
	contact_filter, manual_contacts, change_log,
	total_recipients, messages_sent, messages_delivered, messages_read,
	messages_failed, messages_cancelled, version, created_at, updated_at`

// SaveCampaign inserts a new campaign row.
func (d *Database) SaveCampaign(ctx context.Context, c *models.Campaign) error {
	filterJSON, err := json.Marshal(c.ContactFilter)
	if err != nil {
		return fmt.Errorf("failed to marshal contact filter: %w", err)
	}
	manualJSON, err := json.Marshal(orEmptyContacts(c.ManualContacts))
	if err != nil {
		return fmt.Errorf("failed to marshal manual contacts: %w", err)
	}
	changeJSON, err := json.Marshal(orEmptyChangeLog(c.ChangeLog))
	if err != nil {
		return fmt.Errorf("failed to marshal change log: %w", err)
	}

	query := `
		INSERT INTO campaigns (
			id, name, content, content_snapshot, group_id, channel, status, priority,
			send_immediately, scheduled_for, max_recipients, created_by, creator_role,
			contact_filter, manual_contacts, change_log, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			c.ID, c.Name, c.Content, c.ContentSnapshot, c.GroupID, c.Channel,
			c.Status, c.Priority, c.SendImmediately, c.ScheduledFor, c.MaxRecipients,
			c.CreatedBy, c.CreatorRole, string(filterJSON), string(manualJSON), string(changeJSON))
		if err != nil {
			return fmt.Errorf("failed to save campaign: %w", err)
		}
		return nil
	}, "save campaign")
}

// GetCampaign retrieves a campaign by ID; (nil, nil) when absent.
func (d *Database) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	row := d.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM campaigns WHERE id = ?", campaignColumns), id)
	return scanCampaign(row)
}

// UpdateCampaign writes back a mutated campaign using an optimistic
// version check. A concurrent writer surfaces as CONCURRENCY_CONFLICT;
// callers re-read and retry.
func (d *Database) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	filterJSON, err := json.Marshal(c.ContactFilter)
	if err != nil {
		return fmt.Errorf("failed to marshal contact filter: %w", err)
	}
	manualJSON, err := json.Marshal(orEmptyContacts(c.ManualContacts))
	if err != nil {
		return fmt.Errorf("failed to marshal manual contacts: %w", err)
	}
	changeJSON, err := json.Marshal(orEmptyChangeLog(c.ChangeLog))
	if err != nil {
		return fmt.Errorf("failed to marshal change log: %w", err)
	}

	query := `
		UPDATE campaigns SET
			name = ?, content = ?, content_snapshot = ?, status = ?, priority = ?,
			send_immediately = ?, scheduled_for = ?, max_recipients = ?,
			contact_filter = ?, manual_contacts = ?, change_log = ?,
			total_recipients = ?, messages_sent = ?, messages_delivered = ?,
			messages_read = ?, messages_failed = ?, messages_cancelled = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := d.db.ExecContext(ctx, query,
		c.Name, c.Content, c.ContentSnapshot, c.Status, c.Priority,
		c.SendImmediately, c.ScheduledFor, c.MaxRecipients,
		string(filterJSON), string(manualJSON), string(changeJSON),
		c.Counters.TotalRecipients, c.Counters.MessagesSent, c.Counters.MessagesDelivered,
		c.Counters.MessagesRead, c.Counters.MessagesFailed, c.Counters.MessagesCancelled,
		c.ID, c.Version)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		existing, getErr := d.GetCampaign(ctx, c.ID)
		if getErr == nil && existing == nil {
			return errors.New(errors.ErrCodeNotFound, fmt.Sprintf("campaign not found: %s", c.ID))
		}
		return errors.New(errors.ErrCodeConcurrencyConflict,
			fmt.Sprintf("campaign %s was modified concurrently (version %d)", c.ID, c.Version))
	}

	c.Version++
	return nil
}

// ListCampaignsByStatus returns campaigns currently in the given status.
func (d *Database) ListCampaignsByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	rows, err := d.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM campaigns WHERE status = ? ORDER BY created_at", campaignColumns), status)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// ListDueScheduledCampaigns returns scheduled campaigns whose send time
// has arrived.
func (d *Database) ListDueScheduledCampaigns(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	rows, err := d.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM campaigns WHERE status = ? AND scheduled_for <= ? ORDER BY scheduled_for", campaignColumns),
		models.CampaignStatusScheduled, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var filterJSON, manualJSON, changeJSON string
	var scheduledFor sql.NullTime

	err := row.Scan(
		&c.ID, &c.Name, &c.Content, &c.ContentSnapshot, &c.GroupID, &c.Channel,
		&c.Status, &c.Priority, &c.SendImmediately, &scheduledFor, &c.MaxRecipients,
		&c.CreatedBy, &c.CreatorRole, &filterJSON, &manualJSON, &changeJSON,
		&c.Counters.TotalRecipients, &c.Counters.MessagesSent, &c.Counters.MessagesDelivered,
		&c.Counters.MessagesRead, &c.Counters.MessagesFailed, &c.Counters.MessagesCancelled,
		&c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan campaign: %w", err)
	}

	if scheduledFor.Valid {
		t := scheduledFor.Time
		c.ScheduledFor = &t
	}
	if err := json.Unmarshal([]byte(filterJSON), &c.ContactFilter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contact filter: %w", err)
	}
	if err := json.Unmarshal([]byte(manualJSON), &c.ManualContacts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manual contacts: %w", err)
	}
	if err := json.Unmarshal([]byte(changeJSON), &c.ChangeLog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change log: %w", err)
	}

	return c, nil
}

func orEmptyContacts(c []models.ManualContact) []models.ManualContact {
	if c == nil {
		return []models.ManualContact{}
	}
	return c
}

func orEmptyChangeLog(c []models.ChangeLogEntry) []models.ChangeLogEntry {
	if c == nil {
		return []models.ChangeLogEntry{}
	}
	return c
}

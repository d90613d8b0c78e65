package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zapcast/internal/database"
	"zapcast/internal/errors"
	"zapcast/internal/models"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// mockStore is an in-memory Store that mirrors the optimistic
// concurrency and uniqueness behavior of the real database.
type mockStore struct {
	mu         sync.Mutex
	campaigns  map[string]*models.Campaign
	groups     map[string]*models.TargetGroup
	members    map[string][]models.GroupMember
	recipients map[string]*models.Recipient
	decisions  map[string]*models.ApprovalDecision
	auditLog   []*models.AuditEntry

	failUpdateCampaign error
}

func newMockStore() *mockStore {
	return &mockStore{
		campaigns:  make(map[string]*models.Campaign),
		groups:     make(map[string]*models.TargetGroup),
		members:    make(map[string][]models.GroupMember),
		recipients: make(map[string]*models.Recipient),
		decisions:  make(map[string]*models.ApprovalDecision),
	}
}

func copyCampaign(c *models.Campaign) *models.Campaign {
	dup := *c
	return &dup
}

func copyRecipient(r *models.Recipient) *models.Recipient {
	dup := *r
	return &dup
}

func (m *mockStore) SaveCampaign(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (m *mockStore) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, nil
	}
	return copyCampaign(c), nil
}

func (m *mockStore) UpdateCampaign(ctx context.Context, c *models.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdateCampaign != nil {
		return m.failUpdateCampaign
	}
	existing, ok := m.campaigns[c.ID]
	if !ok {
		return errors.New(errors.ErrCodeNotFound, fmt.Sprintf("campaign not found: %s", c.ID))
	}
	if existing.Version != c.Version {
		return errors.New(errors.ErrCodeConcurrencyConflict,
			fmt.Sprintf("campaign %s was modified concurrently (version %d)", c.ID, c.Version))
	}
	c.Version++
	c.UpdatedAt = time.Now()
	m.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (m *mockStore) ListCampaignsByStatus(ctx context.Context, status models.CampaignStatus) ([]*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Campaign
	for _, c := range m.campaigns {
		if c.Status == status {
			out = append(out, copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) ListDueScheduledCampaigns(ctx context.Context, now time.Time) ([]*models.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Campaign
	for _, c := range m.campaigns {
		if c.Status == models.CampaignStatusScheduled && c.ScheduledFor != nil && !c.ScheduledFor.After(now) {
			out = append(out, copyCampaign(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) SaveDecision(ctx context.Context, dec *models.ApprovalDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dec.CampaignID + "|" + dec.Approver
	if _, exists := m.decisions[key]; exists {
		return errors.New(errors.ErrCodeDuplicateDecision,
			fmt.Sprintf("approver %s already decided campaign %s", dec.Approver, dec.CampaignID))
	}
	dup := *dec
	m.decisions[key] = &dup
	return nil
}

func (m *mockStore) GetDecision(ctx context.Context, campaignID, approver string) (*models.ApprovalDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dec, ok := m.decisions[campaignID+"|"+approver]
	if !ok {
		return nil, nil
	}
	dup := *dec
	return &dup, nil
}

func (m *mockStore) ListDecisionsByCampaign(ctx context.Context, campaignID string) ([]*models.ApprovalDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ApprovalDecision
	for _, dec := range m.decisions {
		if dec.CampaignID == campaignID {
			dup := *dec
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Approver < out[j].Approver })
	return out, nil
}

func (m *mockStore) SaveTargetGroup(ctx context.Context, g *models.TargetGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := *g
	m.groups[g.ID] = &dup
	return nil
}

func (m *mockStore) GetTargetGroup(ctx context.Context, id string) (*models.TargetGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, nil
	}
	dup := *g
	dup.MemberCount = len(m.members[id])
	return &dup, nil
}

func (m *mockStore) SaveGroupMembers(ctx context.Context, groupID string, members []models.GroupMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[groupID] = append([]models.GroupMember(nil), members...)
	return nil
}

func (m *mockStore) ListGroupMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.GroupMember(nil), m.members[groupID]...), nil
}

func (m *mockStore) SaveRecipients(ctx context.Context, recipients []*models.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recipients {
		m.recipients[r.ID] = copyRecipient(r)
	}
	return nil
}

func (m *mockStore) GetRecipient(ctx context.Context, id string) (*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[id]
	if !ok {
		return nil, nil
	}
	return copyRecipient(r), nil
}

func (m *mockStore) GetRecipientByTransportMsgID(ctx context.Context, transportMsgID string) (*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.recipients {
		if r.TransportMsgID == transportMsgID {
			return copyRecipient(r), nil
		}
	}
	return nil, nil
}

func (m *mockStore) UpdateRecipient(ctx context.Context, r *models.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.recipients[r.ID]
	if !ok {
		return errors.New(errors.ErrCodeNotFound, fmt.Sprintf("recipient not found: %s", r.ID))
	}
	if existing.Version != r.Version {
		return errors.New(errors.ErrCodeConcurrencyConflict,
			fmt.Sprintf("recipient %s was modified concurrently (version %d)", r.ID, r.Version))
	}
	r.Version++
	r.UpdatedAt = time.Now()
	m.recipients[r.ID] = copyRecipient(r)
	return nil
}

func (m *mockStore) ListRecipientsByCampaign(ctx context.Context, campaignID string) ([]*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Recipient
	for _, r := range m.recipients {
		if r.CampaignID == campaignID {
			out = append(out, copyRecipient(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) ListUnsentRecipients(ctx context.Context) ([]*models.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Recipient
	for _, r := range m.recipients {
		if r.Status != models.MessageStatusPending && r.Status != models.MessageStatusSending {
			continue
		}
		c, ok := m.campaigns[r.CampaignID]
		if !ok {
			continue
		}
		switch c.Status {
		case models.CampaignStatusApproved, models.CampaignStatusScheduled, models.CampaignStatusSending:
			out = append(out, copyRecipient(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) CountRecipientsByStatus(ctx context.Context, campaignID string) (map[models.MessageStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.MessageStatus]int)
	for _, r := range m.recipients {
		if r.CampaignID == campaignID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (m *mockStore) AppendAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := *e
	dup.ID = int64(len(m.auditLog) + 1)
	dup.CreatedAt = time.Now()
	m.auditLog = append(m.auditLog, &dup)
	return nil
}

func (m *mockStore) QueryAuditEntries(ctx context.Context, q database.AuditQuery) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range m.auditLog {
		if q.EntityType != "" && e.EntityType != q.EntityType {
			continue
		}
		if q.EntityID != "" && e.EntityID != q.EntityID {
			continue
		}
		if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.CreatedAt.After(q.Until) {
			continue
		}
		dup := *e
		out = append(out, &dup)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *mockStore) CleanupOldAuditEntries(retentionDays int) error {
	return nil
}

func (m *mockStore) auditActions() []models.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditAction, 0, len(m.auditLog))
	for _, e := range m.auditLog {
		out = append(out, e.Action)
	}
	return out
}

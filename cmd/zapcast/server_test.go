package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"zapcast/internal/database"
	"zapcast/internal/models"
	"zapcast/internal/queue"
	"zapcast/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "test-secret-that-is-long-enough-123"

type testEnv struct {
	server *Server
	db     *database.Database
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db, err := database.New(filepath.Join(t.TempDir(), "zapcast-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q := queue.New()
	t.Cleanup(q.Close)

	orchestrator := service.NewOrchestrator(db, q, logger)
	tracker := service.NewDeliveryTracker(db, logger, orchestrator.RefreshCounters)
	gate := service.NewApprovalGate(db, orchestrator, logger)
	campaigns := service.NewCampaignService(db, 1000, "whatsapp", logger)
	groups := service.NewGroupService(db, logger)

	cfg := &models.Config{}
	cfg.Messenger.WebhookSecret = testWebhookSecret
	cfg.Server.Port = 8084
	cfg.Server.WebhookMaxSkewSec = 300

	return &testEnv{
		server: NewServer(cfg, campaigns, groups, gate, orchestrator, tracker, logger),
		db:     db,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func (e *testEnv) createGroup(t *testing.T, autoApprove bool) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/groups", map[string]interface{}{
		"name":        "Field Teams",
		"autoApprove": autoApprove,
		"members": []map[string]string{
			{"phoneNumber": "+5511999990001", "displayName": "Ana"},
			{"phoneNumber": "+5511999990002", "displayName": "Bruno"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var group models.TargetGroup
	decodeInto(t, rec, &group)
	require.NotEmpty(t, group.ID)
	return group.ID
}

func (e *testEnv) createCampaign(t *testing.T, groupID string) *models.Campaign {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/campaigns", map[string]interface{}{
		"name":            "Weekly Update",
		"content":         "New produce arriving Friday.",
		"groupId":         groupID,
		"priority":        "medium",
		"sendImmediately": true,
		"createdBy":       "carla",
		"creatorRole":     "member",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var campaign models.Campaign
	decodeInto(t, rec, &campaign)
	require.Equal(t, models.CampaignStatusDraft, campaign.Status)
	return &campaign
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestCampaignApprovalFlow(t *testing.T) {
	env := newTestServer(t)
	groupID := env.createGroup(t, false)
	campaign := env.createCampaign(t, groupID)

	rec := env.do(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/submit", map[string]string{"actor": "carla"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var submitted models.Campaign
	decodeInto(t, rec, &submitted)
	assert.Equal(t, models.CampaignStatusPendingApproval, submitted.Status)

	rec = env.do(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/decision", map[string]interface{}{
		"approver":     "dora",
		"approverRole": "manager",
		"approve":      true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var approved models.Campaign
	decodeInto(t, rec, &approved)
	assert.Equal(t, models.CampaignStatusSending, approved.Status)
	assert.Equal(t, "New produce arriving Friday.", approved.ContentSnapshot)
	assert.Equal(t, 2, approved.Counters.TotalRecipients)

	rec = env.do(t, http.MethodGet, "/api/campaigns/"+campaign.ID+"/recipients", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recipients []models.Recipient
	decodeInto(t, rec, &recipients)
	assert.Len(t, recipients, 2)

	rec = env.do(t, http.MethodGet, "/api/campaigns/"+campaign.ID+"/decisions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var decisions []models.ApprovalDecision
	decodeInto(t, rec, &decisions)
	require.Len(t, decisions, 1)
	assert.Equal(t, models.DecisionApproved, decisions[0].Status)

	rec = env.do(t, http.MethodGet, "/api/campaigns/"+campaign.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []models.AuditEntry
	decodeInto(t, rec, &entries)
	assert.NotEmpty(t, entries)
}

func TestCreateCampaignValidation(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/campaigns", map[string]interface{}{
		"name":     "No Audience",
		"content":  "hello",
		"priority": "medium",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns", bytes.NewReader([]byte("{broken")))
	rec2 := httptest.NewRecorder()
	env.server.router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestGetCampaignNotFound(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/api/campaigns/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecisionUnauthorizedRole(t *testing.T) {
	env := newTestServer(t)
	groupID := env.createGroup(t, false)
	campaign := env.createCampaign(t, groupID)
	env.do(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/submit", map[string]string{"actor": "carla"})

	rec := env.do(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/decision", map[string]interface{}{
		"approver":     "eve",
		"approverRole": "member",
		"approve":      true,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDuplicateDecisionConflicts(t *testing.T) {
	env := newTestServer(t)
	groupID := env.createGroup(t, false)
	campaign := env.createCampaign(t, groupID)
	env.do(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/submit", map[string]string{"actor": "carla"})

	verdict := map[string]interface{}{
		"approver":     "dora",
		"approverRole": "manager",
		"approve":      true,
	}
	rec := env.do(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/decision", verdict)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/decision", verdict)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelCampaign(t *testing.T) {
	env := newTestServer(t)
	groupID := env.createGroup(t, false)
	campaign := env.createCampaign(t, groupID)

	rec := env.do(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/cancel", map[string]string{"actor": "carla"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled models.Campaign
	decodeInto(t, rec, &cancelled)
	assert.Equal(t, models.CampaignStatusCancelled, cancelled.Status)

	rec = env.do(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/cancel", map[string]string{"actor": "carla"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGroupMembersRoundTrip(t *testing.T) {
	env := newTestServer(t)
	groupID := env.createGroup(t, false)

	rec := env.do(t, http.MethodPut, "/api/groups/"+groupID+"/members", []map[string]string{
		{"phoneNumber": "+5511999990009", "displayName": "Rita"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/groups/"+groupID+"/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var members []models.GroupMember
	decodeInto(t, rec, &members)
	require.Len(t, members, 1)
	assert.Equal(t, "+5511999990009", members[0].PhoneNumber)
}

func (e *testEnv) postWebhook(t *testing.T, payload interface{}, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/messenger", bytes.NewReader(body))
	if sign {
		req.Header.Set("X-Webhook-Signature", signBody(testWebhookSecret, body))
		req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	}
	rec := httptest.NewRecorder()
	e.server.router.ServeHTTP(rec, req)
	return rec
}

func seedSentRecipient(t *testing.T, env *testEnv, transportMsgID string) *models.Recipient {
	t.Helper()
	ctx := t.Context()

	campaign := &models.Campaign{
		ID:       "c-hook",
		Name:     "Hook Test",
		Content:  "hello",
		Channel:  "default",
		Status:   models.CampaignStatusSending,
		Priority: models.PriorityMedium,
		ManualContacts: []models.ManualContact{
			{PhoneNumber: "+5511999990001"},
		},
		Version: 1,
	}
	require.NoError(t, env.db.SaveCampaign(ctx, campaign))

	now := time.Now()
	r := &models.Recipient{
		ID:          "r-hook",
		CampaignID:  campaign.ID,
		PhoneNumber: "+5511999990001",
		Status:      models.MessageStatusPending,
		QueuedAt:    now,
		Version:     1,
	}
	require.NoError(t, env.db.SaveRecipients(ctx, []*models.Recipient{r}))

	r.Status = models.MessageStatusSent
	r.TransportMsgID = transportMsgID
	r.SentAt = &now
	require.NoError(t, env.db.UpdateRecipient(ctx, r))
	return r
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestServer(t)
	rec := env.postWebhook(t, map[string]string{"event": "message.delivered"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookIgnoresUnknownEvent(t *testing.T) {
	env := newTestServer(t)
	rec := env.postWebhook(t, map[string]string{
		"event":     "message.typing",
		"messageId": "wamid-1",
	}, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookAppliesDeliveryReceipt(t *testing.T) {
	env := newTestServer(t)
	seedSentRecipient(t, env, "wamid-hook-1")

	rec := env.postWebhook(t, map[string]string{
		"event":     "message.delivered",
		"messageId": "wamid-hook-1",
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := env.db.GetRecipientByTransportMsgID(t.Context(), "wamid-hook-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.MessageStatusDelivered, got.Status)
	assert.NotNil(t, got.DeliveredAt)
}

func TestWebhookUnknownMessageAcknowledged(t *testing.T) {
	env := newTestServer(t)
	rec := env.postWebhook(t, map[string]string{
		"event":     "message.read",
		"messageId": "wamid-never-sent",
	}, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRejectsStaleTimestamp(t *testing.T) {
	env := newTestServer(t)
	body, err := json.Marshal(map[string]string{
		"event":     "message.delivered",
		"messageId": "wamid-old",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/messenger", bytes.NewReader(body))
	req.Header.Set("X-Webhook-Signature", signBody(testWebhookSecret, body))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10))
	rec := httptest.NewRecorder()
	env.server.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookAppliesFailureReport(t *testing.T) {
	env := newTestServer(t)
	seedSentRecipient(t, env, "wamid-hook-2")

	rec := env.postWebhook(t, map[string]string{
		"event":     "message.failed",
		"messageId": "wamid-hook-2",
		"reason":    "number blocked",
	}, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := env.db.GetRecipientByTransportMsgID(t.Context(), "wamid-hook-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.MessageStatusFailed, got.Status)
	assert.Equal(t, "number blocked", got.LastError)
	assert.NotNil(t, got.FailedAt)
}

func TestAuditTrailQueryParams(t *testing.T) {
	env := newTestServer(t)
	groupID := env.createGroup(t, false)
	campaign := env.createCampaign(t, groupID)
	env.do(t, http.MethodPost, "/api/campaigns/"+campaign.ID+"/submit", map[string]string{"actor": "carla"})

	rec := env.do(t, http.MethodGet, "/api/campaigns/"+campaign.ID+"/audit?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entries []models.AuditEntry
	decodeInto(t, rec, &entries)
	assert.Len(t, entries, 1)

	until := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	rec = env.do(t, http.MethodGet, "/api/campaigns/"+campaign.ID+"/audit?until="+until, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries = nil
	decodeInto(t, rec, &entries)
	assert.Empty(t, entries, "entries after the until bound are filtered out")

	rec = env.do(t, http.MethodGet, "/api/campaigns/"+campaign.ID+"/audit?since=lately", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/campaigns/"+campaign.ID+"/audit?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"zapcast/internal/constants"
	"zapcast/internal/errors"
	"zapcast/internal/middleware"
	"zapcast/internal/models"
	"zapcast/internal/service"
	"zapcast/pkg/messenger"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router       *mux.Router
	logger       *logrus.Logger
	cfg          *models.Config
	campaigns    service.CampaignService
	groups       service.GroupService
	gate         service.ApprovalGate
	orchestrator *service.Orchestrator
	tracker      service.DeliveryTracker
	server       *http.Server
}

func NewServer(cfg *models.Config, campaigns service.CampaignService, groups service.GroupService, gate service.ApprovalGate, orchestrator *service.Orchestrator, tracker service.DeliveryTracker, logger *logrus.Logger) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		logger:       logger,
		cfg:          cfg,
		campaigns:    campaigns,
		groups:       groups,
		gate:         gate,
		orchestrator: orchestrator,
		tracker:      tracker,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/campaigns", s.handleCreateCampaign()).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}", s.handleGetCampaign()).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}", s.handleUpdateCampaign()).Methods(http.MethodPatch)
	api.HandleFunc("/campaigns/{id}/submit", s.handleSubmitCampaign()).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/decision", s.handleDecision()).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/cancel", s.handleCancelCampaign()).Methods(http.MethodPost)
	api.HandleFunc("/campaigns/{id}/recipients", s.handleListRecipients()).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}/decisions", s.handleListDecisions()).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}/audit", s.handleAuditTrail()).Methods(http.MethodGet)

	api.HandleFunc("/groups", s.handleCreateGroup()).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id}", s.handleGetGroup()).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id}/members", s.handleReplaceGroupMembers()).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id}/members", s.handleListGroupMembers()).Methods(http.MethodGet)

	webhook := s.router.PathPrefix("/webhook").Subrouter()
	webhook.HandleFunc("/messenger", s.handleMessengerWebhook()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func (s *Server) handleCreateCampaign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.CreateCampaignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "invalid request body"))
			return
		}

		campaign, err := s.campaigns.Create(r.Context(), &req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, campaign)
	}
}

func (s *Server) handleGetCampaign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaign, err := s.campaigns.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, campaign)
	}
}

func (s *Server) handleUpdateCampaign() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.UpdateCampaignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "invalid request body"))
			return
		}

		campaign, err := s.campaigns.Update(r.Context(), mux.Vars(r)["id"], &req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, campaign)
	}
}

func (s *Server) handleSubmitCampaign() http.HandlerFunc {
	type submitRequest struct {
		Actor string `json:"actor"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "invalid request body"))
			return
		}

		campaign, err := s.gate.Submit(r.Context(), mux.Vars(r)["id"], req.Actor)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, campaign)
	}
}

func (s *Server) handleDecision() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.DecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "invalid request body"))
			return
		}

		campaign, err := s.gate.Decide(r.Context(), mux.Vars(r)["id"], &req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, campaign)
	}
}

func (s *Server) handleCancelCampaign() http.HandlerFunc {
	type cancelRequest struct {
		Actor string `json:"actor"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "invalid request body"))
			return
		}

		campaign, err := s.orchestrator.Cancel(r.Context(), mux.Vars(r)["id"], req.Actor)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, campaign)
	}
}

func (s *Server) handleListRecipients() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipients, err := s.campaigns.ListRecipients(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, recipients)
	}
}

func (s *Server) handleListDecisions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decisions, err := s.gate.ListDecisions(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, decisions)
	}
}

func (s *Server) handleAuditTrail() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		var since, until time.Time
		var err error
		if v := query.Get("since"); v != "" {
			if since, err = time.Parse(time.RFC3339, v); err != nil {
				s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "since must be an RFC 3339 timestamp"))
				return
			}
		}
		if v := query.Get("until"); v != "" {
			if until, err = time.Parse(time.RFC3339, v); err != nil {
				s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "until must be an RFC 3339 timestamp"))
				return
			}
		}
		limit := 0
		if v := query.Get("limit"); v != "" {
			if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
				s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "limit must be a non-negative integer"))
				return
			}
		}

		entries, err := s.campaigns.AuditTrail(r.Context(), mux.Vars(r)["id"], since, until, limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, entries)
	}
}

func (s *Server) handleCreateGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.CreateGroupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "invalid request body"))
			return
		}

		group, err := s.groups.Create(r.Context(), &req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, group)
	}
}

func (s *Server) handleGetGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, err := s.groups.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, group)
	}
}

func (s *Server) handleReplaceGroupMembers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var members []models.GroupMember
		if err := json.NewDecoder(r.Body).Decode(&members); err != nil {
			s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "invalid request body"))
			return
		}

		if err := s.groups.ReplaceMembers(r.Context(), mux.Vars(r)["id"], members); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListGroupMembers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		members, err := s.groups.ListMembers(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, members)
	}
}

func (s *Server) handleMessengerWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := verifySignature(r, s.cfg.Messenger.WebhookSecret, "X-Webhook-Signature",
			time.Duration(s.cfg.Server.WebhookMaxSkewSec)*time.Second)
		if err != nil {
			s.logger.WithError(err).Warn("Rejected messenger webhook")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var event messenger.DeliveryEvent
		if err := json.Unmarshal(body, &event); err != nil {
			s.writeError(w, errors.New(errors.ErrCodeValidationFailed, "invalid webhook payload"))
			return
		}

		at := event.Timestamp
		if at.IsZero() {
			at = time.Now()
		}

		var next models.MessageStatus
		switch event.Event {
		case messenger.EventMessageDelivered:
			next = models.MessageStatusDelivered
		case messenger.EventMessageRead:
			next = models.MessageStatusRead
		case messenger.EventMessageFailed:
			if err := s.tracker.HandleFailureReport(r.Context(), event.MessageID, event.Reason, at); err != nil {
				if errors.HasCode(err, errors.ErrCodeNotFound) {
					w.WriteHeader(http.StatusOK)
					return
				}
				s.writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		default:
			// Unknown event types are acknowledged and dropped so the
			// transport does not keep redelivering them.
			s.logger.WithField("event", event.Event).Debug("Ignoring unsupported webhook event")
			w.WriteHeader(http.StatusOK)
			return
		}

		if err := s.tracker.HandleReceipt(r.Context(), event.MessageID, next, at); err != nil {
			if errors.HasCode(err, errors.ErrCodeNotFound) {
				// Receipt for a message we never sent; acknowledge it.
				w.WriteHeader(http.StatusOK)
				return
			}
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeValidationFailed:
		status = http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeDuplicateDecision, errors.ErrCodeStateConflict, errors.ErrCodeAlreadyTerminal, errors.ErrCodeConcurrencyConflict:
		status = http.StatusConflict
	case errors.ErrCodeRateLimit:
		status = http.StatusTooManyRequests
	}

	if status >= 500 {
		s.logger.WithError(err).Error("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error": err.Error(),
		"code":  string(errors.GetCode(err)),
	}
	if encodeErr := json.NewEncoder(w).Encode(resp); encodeErr != nil {
		s.logger.WithError(encodeErr).Error("Failed to encode error response")
	}
}

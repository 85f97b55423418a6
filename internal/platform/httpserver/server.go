package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	campaignengine "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine"
	enginedomainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/domain/errors"
	enginehttp "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/transport/http"
	messageevents "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events"
	eventsdomainerrors "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/domain/errors"
	eventshttp "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "github.com/Nex2i/dripiq-sub001/internal/platform/httpserver/docs"
)

const maxWebhookBody = 1 << 20

type Server struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	addr     string
	engine   campaignengine.Module
	webhooks messageevents.Module
}

func New(
	engine campaignengine.Module,
	webhooks messageevents.Module,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:      http.NewServeMux(),
		logger:   logger,
		addr:     addr,
		engine:   engine,
		webhooks: webhooks,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /v1/campaigns", s.handleCreateCampaign)
	s.mux.HandleFunc("POST /v1/campaigns/{campaign_id}/enrollments", s.handleEnrollContact)
	s.mux.HandleFunc("POST /v1/campaigns/{campaign_id}/cancel", s.handleCancelCampaign)
	s.mux.HandleFunc("GET /v1/campaigns/{campaign_id}/progress", s.handleCampaignProgress)
	s.mux.HandleFunc("GET /v1/instances/{instance_id}", s.handleGetInstance)
	s.mux.HandleFunc("POST /v1/instances/{instance_id}/pause", s.handlePauseInstance)
	s.mux.HandleFunc("POST /v1/instances/{instance_id}/resume", s.handleResumeInstance)
	s.mux.HandleFunc("POST /v1/steps/{step_instance_id}/reschedule", s.handleRescheduleStep)

	s.mux.HandleFunc("POST /webhooks/{provider}", s.handleIngestWebhook)
	s.mux.HandleFunc("POST /v1/webhook-deliveries/{delivery_id}/replay", s.handleReplayDelivery)
}

func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
	if tenantID == "" {
		writeEngineError(w, http.StatusUnauthorized, "missing_tenant", "X-Tenant-Id header is required")
		return "", false
	}
	return tenantID, true
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req enginehttp.CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.engine.Handler.CreateCampaignHandler(r.Context(), tenantID, req)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleEnrollContact(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	campaignID := r.PathValue("campaign_id")
	var req enginehttp.EnrollContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	resp, err := s.engine.Handler.EnrollContactHandler(r.Context(), tenantID, campaignID, req)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	campaignID := r.PathValue("campaign_id")
	var req enginehttp.CancelCampaignRequest
	// Body is optional; a bare POST cancels with no reason.
	_ = json.NewDecoder(r.Body).Decode(&req)
	resp, err := s.engine.Handler.CancelCampaignHandler(r.Context(), tenantID, campaignID, req)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCampaignProgress(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	campaignID := r.PathValue("campaign_id")
	resp, err := s.engine.Handler.CampaignProgressHandler(r.Context(), tenantID, campaignID)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	instanceID := r.PathValue("instance_id")
	resp, err := s.engine.Handler.GetInstanceHandler(r.Context(), tenantID, instanceID)
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePauseInstance(w http.ResponseWriter, r *http.Request) {
	s.handleInstanceStatus(w, r, true)
}

func (s *Server) handleResumeInstance(w http.ResponseWriter, r *http.Request) {
	s.handleInstanceStatus(w, r, false)
}

func (s *Server) handleInstanceStatus(w http.ResponseWriter, r *http.Request, pause bool) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	instanceID := r.PathValue("instance_id")
	var req enginehttp.ChangeInstanceStatusRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	var err error
	if pause {
		err = s.engine.Handler.PauseInstanceHandler(r.Context(), tenantID, instanceID, req.Reason)
	} else {
		err = s.engine.Handler.ResumeInstanceHandler(r.Context(), tenantID, instanceID, req.Reason)
	}
	if err != nil {
		writeEngineDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRescheduleStep(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	stepInstanceID := r.PathValue("step_instance_id")
	var req enginehttp.RescheduleStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEngineError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if err := s.engine.Handler.RescheduleStepHandler(r.Context(), tenantID, stepInstanceID, req); err != nil {
		writeEngineDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIngestWebhook(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	provider := r.PathValue("provider")
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeWebhookError(w, http.StatusBadRequest, "unreadable_body", "could not read request body")
		return
	}
	resp, err := s.webhooks.Handler.IngestWebhookHandler(r.Context(), tenantID, provider, payload)
	if err != nil {
		writeWebhookDomainError(w, resp, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleReplayDelivery(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	deliveryID := r.PathValue("delivery_id")
	resp, err := s.webhooks.Handler.ReplayDeliveryHandler(r.Context(), tenantID, deliveryID)
	if err != nil {
		writeWebhookDomainError(w, eventshttp.WebhookAcceptedResponse{}, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeEngineDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, enginedomainerrors.ErrCampaignNotFound),
		errors.Is(err, enginedomainerrors.ErrPlanVersionNotFound),
		errors.Is(err, enginedomainerrors.ErrInstanceNotFound),
		errors.Is(err, enginedomainerrors.ErrStepInstanceNotFound):
		writeEngineError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, enginedomainerrors.ErrInvalidCampaignInput),
		errors.Is(err, enginedomainerrors.ErrInvalidEnrollmentInput):
		writeEngineError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, enginedomainerrors.ErrInvalidStateTransition):
		writeEngineError(w, http.StatusConflict, "invalid_state_transition", err.Error())
	case errors.Is(err, enginedomainerrors.ErrStepNotReschedulable):
		writeEngineError(w, http.StatusConflict, "step_not_reschedulable", err.Error())
	case errors.Is(err, enginedomainerrors.ErrContactAlreadyEnrolled):
		writeEngineError(w, http.StatusConflict, "already_enrolled", err.Error())
	default:
		writeEngineError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeWebhookDomainError(w http.ResponseWriter, resp eventshttp.WebhookAcceptedResponse, err error) {
	switch {
	case errors.Is(err, eventsdomainerrors.ErrUnknownProvider):
		writeWebhookError(w, http.StatusNotFound, "unknown_provider", err.Error())
	case errors.Is(err, eventsdomainerrors.ErrMalformedPayload):
		// The delivery is archived even when normalization fails; return the
		// archive reference so the caller can replay it after a fix.
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, eventsdomainerrors.ErrDeliveryNotFound):
		writeWebhookError(w, http.StatusNotFound, "delivery_not_found", err.Error())
	default:
		writeWebhookError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeEngineError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, enginehttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeWebhookError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, eventshttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

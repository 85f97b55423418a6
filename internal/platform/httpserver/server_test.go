package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	campaignengine "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine"
	enginehttp "github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/transport/http"
	messageevents "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events"
	eventshttp "github.com/Nex2i/dripiq-sub001/contexts/outreach/message-events/transport/http"
	"github.com/Nex2i/dripiq-sub001/internal/platform/messaging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	bus, err := messaging.NewKafka(nil, nil)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	engine := campaignengine.NewInMemoryModule(bus, nil)
	webhooks := messageevents.NewInMemoryModule(bus, nil)
	return New(engine, webhooks, nil, ":0")
}

func doJSON(t *testing.T, server *Server, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if tenant != "" {
		req.Header.Set("X-Tenant-Id", tenant)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(recorder.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, recorder.Body.String())
	}
	return out
}

func createCampaignViaAPI(t *testing.T, server *Server) enginehttp.CampaignResponse {
	t.Helper()
	recorder := doJSON(t, server, http.MethodPost, "/v1/campaigns", "tenant-1", enginehttp.CreateCampaignRequest{
		Name: "win-back",
		Steps: []enginehttp.StepTemplateRequest{
			{Channel: "email", Identity: "sales@acme.com", Subject: "hi", Body: "first touch"},
			{Channel: "email", Identity: "sales@acme.com", Subject: "ping", Body: "second touch", OffsetSeconds: 172800},
		},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create campaign: expected 201, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	return decode[enginehttp.CampaignResponse](t, recorder)
}

func TestMissingTenantHeaderIsUnauthorized(t *testing.T) {
	server := newTestServer(t)
	recorder := doJSON(t, server, http.MethodPost, "/v1/campaigns", "", enginehttp.CreateCampaignRequest{})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without tenant header, got %d", recorder.Code)
	}
	resp := decode[enginehttp.ErrorResponse](t, recorder)
	if resp.Code != "missing_tenant" {
		t.Fatalf("unexpected error code %q", resp.Code)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	server := newTestServer(t)
	recorder := doJSON(t, server, http.MethodPost, "/v1/campaigns", "tenant-1", enginehttp.CreateCampaignRequest{
		Name:  "no steps",
		Steps: nil,
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty steps, got %d", recorder.Code)
	}
}

func TestEnrollmentFlowOverHTTP(t *testing.T) {
	server := newTestServer(t)
	campaign := createCampaignViaAPI(t, server)
	if campaign.PlanVersion != 1 {
		t.Fatalf("expected plan version 1, got %d", campaign.PlanVersion)
	}

	enrollReq := enginehttp.EnrollContactRequest{
		ContactID:    "contact-1",
		EmailAddress: "lead@example.com",
	}
	recorder := doJSON(t, server, http.MethodPost, "/v1/campaigns/"+campaign.CampaignID+"/enrollments", "tenant-1", enrollReq)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201 on first enrollment, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	created := decode[enginehttp.InstanceResponse](t, recorder)
	if len(created.Steps) != 2 {
		t.Fatalf("expected 2 step instances, got %d", len(created.Steps))
	}

	// Enrolling the same contact again replays the existing instance.
	recorder = doJSON(t, server, http.MethodPost, "/v1/campaigns/"+campaign.CampaignID+"/enrollments", "tenant-1", enrollReq)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on replayed enrollment, got %d", recorder.Code)
	}
	replayed := decode[enginehttp.InstanceResponse](t, recorder)
	if !replayed.Replayed || replayed.InstanceID != created.InstanceID {
		t.Fatalf("expected replay of instance %s, got %+v", created.InstanceID, replayed)
	}

	recorder = doJSON(t, server, http.MethodGet, "/v1/instances/"+created.InstanceID, "tenant-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching instance, got %d", recorder.Code)
	}

	// Other tenants cannot see the instance.
	recorder = doJSON(t, server, http.MethodGet, "/v1/instances/"+created.InstanceID, "tenant-2", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign tenant, got %d", recorder.Code)
	}

	recorder = doJSON(t, server, http.MethodPost, "/v1/instances/"+created.InstanceID+"/pause", "tenant-1", enginehttp.ChangeInstanceStatusRequest{Reason: "ooo"})
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on pause, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	// Pausing twice is an invalid transition.
	recorder = doJSON(t, server, http.MethodPost, "/v1/instances/"+created.InstanceID+"/pause", "tenant-1", nil)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double pause, got %d", recorder.Code)
	}
	recorder = doJSON(t, server, http.MethodPost, "/v1/instances/"+created.InstanceID+"/resume", "tenant-1", nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on resume, got %d", recorder.Code)
	}

	recorder = doJSON(t, server, http.MethodGet, "/v1/campaigns/"+campaign.CampaignID+"/progress", "tenant-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on progress, got %d", recorder.Code)
	}
	progress := decode[enginehttp.CampaignProgressResponse](t, recorder)
	if progress.Enrolled != 1 {
		t.Fatalf("expected 1 enrolled, got %d", progress.Enrolled)
	}

	recorder = doJSON(t, server, http.MethodPost, "/v1/campaigns/"+campaign.CampaignID+"/cancel", "tenant-1", enginehttp.CancelCampaignRequest{Reason: "retired"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d", recorder.Code)
	}
	canceled := decode[enginehttp.CancelCampaignResponse](t, recorder)
	if canceled.CanceledActions != 1 {
		t.Fatalf("expected the open action canceled, got %d", canceled.CanceledActions)
	}
}

func TestWebhookIngestOverHTTP(t *testing.T) {
	server := newTestServer(t)

	payload := `[{"event":"delivered","sg_message_id":"sg-1","email":"lead@example.com"}]`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid", strings.NewReader(payload))
	req.Header.Set("X-Tenant-Id", "tenant-1")
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	accepted := decode[eventshttp.WebhookAcceptedResponse](t, recorder)
	if accepted.DeliveryID == "" || accepted.Status != "normalized" || accepted.Events != 1 {
		t.Fatalf("unexpected response %+v", accepted)
	}

	// Replay returns the same derived events.
	recorder = doJSON(t, server, http.MethodPost, "/v1/webhook-deliveries/"+accepted.DeliveryID+"/replay", "tenant-1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d (%s)", recorder.Code, recorder.Body.String())
	}
}

func TestWebhookMalformedPayloadReturnsArchiveReference(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid", strings.NewReader(`{"bad":"shape"}`))
	req.Header.Set("X-Tenant-Id", "tenant-1")
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (%s)", recorder.Code, recorder.Body.String())
	}
	resp := decode[eventshttp.WebhookAcceptedResponse](t, recorder)
	if resp.DeliveryID == "" || resp.Status != "failed" {
		t.Fatalf("expected archived failed delivery reference, got %+v", resp)
	}
}

func TestWebhookUnknownProvider(t *testing.T) {
	server := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mailgun", strings.NewReader(`{}`))
	req.Header.Set("X-Tenant-Id", "tenant-1")
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", recorder.Code)
	}
}

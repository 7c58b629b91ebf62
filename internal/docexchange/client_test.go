package docexchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nhsd-wmp/platform/internal/shared/config"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

func newTestClient(srv *httptest.Server) *Client {
	return New(config.DocExchangeConfig{
		Endpoint:        srv.URL,
		UpdateEndpoint:  srv.URL + "/update",
		ResolveEndpoint: srv.URL + "/resolve",
		DelayEndpoint:   srv.URL + "/delay",
		APIKey:          "test-key",
	})
}

func testNotification(id types.ID) DischargeNotification {
	return DischargeNotification{
		ReferralID:       id,
		NHSNumber:        "9434765919",
		ProgrammeOutcome: "Complete",
		Targets:          []NotificationTarget{{ODSCode: "A81001", TemplateID: "tmpl-complete"}},
	}
}

// TestSubmitDischarge tests the happy path, including auth header and
// array wrapping
func TestSubmitDischarge(t *testing.T) {
	id := types.NewID()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Expected bearer auth header, got %q", got)
		}
		var payloads []DischargeNotification
		if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil || len(payloads) != 1 {
			t.Errorf("Expected a single-element payload array, got %v (%v)", payloads, err)
		}
		json.NewEncoder(w).Encode([]SubmissionResult{
			{ReferralID: id, DocumentStatus: DocumentReceived},
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv).SubmitDischarge(context.Background(), testNotification(id))
	if err != nil {
		t.Fatalf("SubmitDischarge: %v", err)
	}
	if res.DocumentStatus != DocumentReceived {
		t.Errorf("Expected status %s, got %s", DocumentReceived, res.DocumentStatus)
	}
	if res.ReferralID != id {
		t.Errorf("Expected referral %s, got %s", id, res.ReferralID)
	}
}

// TestSubmitDischargeUnauthorized tests the 401 reclassification
func TestSubmitDischargeUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).SubmitDischarge(context.Background(), testNotification(types.NewID()))
	if !errors.Is(err, errors.ErrAuthentication) {
		t.Errorf("Expected authentication error, got %v", err)
	}
}

// TestSubmitDischargeBadRequest tests flattening of the structured 400 body
func TestSubmitDischargeBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorBody{
			Title: "Validation failed",
			Errors: map[string][]string{
				"nhsNumber":    {"must be 10 digits"},
				"providerName": {"is required"},
			},
		})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).SubmitDischarge(context.Background(), testNotification(types.NewID()))
	if !errors.Is(err, errors.ErrBadRequest) {
		t.Fatalf("Expected bad-request error, got %v", err)
	}
	for _, want := range []string{"Validation failed", "nhsNumber: must be 10 digits", "providerName: is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error %q missing %q", err.Error(), want)
		}
	}
}

// TestSubmitDischargeEmptyBody asserts an empty success body is an error
func TestSubmitDischargeEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv).SubmitDischarge(context.Background(), testNotification(types.NewID())); err == nil {
		t.Error("Expected error for empty success body")
	}
}

// TestRequestUpdate tests the update endpoint decoding
func TestRequestUpdate(t *testing.T) {
	id := types.NewID()
	info := "GP2GP transfer in progress"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/update/") {
			t.Errorf("Expected update path, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(UpdateResult{
			ReferralID:     id,
			DocumentStatus: DocumentRejected,
			UpdateStatus:   "Processed",
			Information:    &info,
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv).RequestUpdate(context.Background(), id)
	if err != nil {
		t.Fatalf("RequestUpdate: %v", err)
	}
	if res.DocumentStatus != DocumentRejected {
		t.Errorf("Expected status %s, got %s", DocumentRejected, res.DocumentStatus)
	}
	if res.Information == nil || *res.Information != info {
		t.Error("Expected information field to round-trip")
	}
}

// TestResolveAndDelay test the bare-status-code endpoints
func TestResolveAndDelay(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	id := types.NewID()
	if err := c.ResolveRejection(context.Background(), id); err != nil {
		t.Errorf("ResolveRejection: %v", err)
	}
	if err := c.DelayDischarge(context.Background(), id); err != nil {
		t.Errorf("DelayDischarge: %v", err)
	}
	if len(paths) != 2 || !strings.HasPrefix(paths[0], "/resolve/") || !strings.HasPrefix(paths[1], "/delay/") {
		t.Errorf("Unexpected endpoint paths %v", paths)
	}
}

// TestParseDocumentStatus tests the vocabulary guard
func TestParseDocumentStatus(t *testing.T) {
	if _, err := ParseDocumentStatus("Shredded"); err == nil {
		t.Error("Expected error for unknown document status")
	}
	if st, err := ParseDocumentStatus("OrganisationNotSupported"); err != nil || st != DocumentOrganisationNotSupported {
		t.Errorf("ParseDocumentStatus = %s, %v", st, err)
	}
}

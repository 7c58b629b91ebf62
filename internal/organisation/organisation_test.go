package organisation

import (
	"testing"
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

func TestOrganisationTypes(t *testing.T) {
	tests := []struct {
		orgType  OrganisationType
		expected string
	}{
		{TypeGPPractice, "GP_PRACTICE"},
		{TypeMSKService, "MSK_SERVICE"},
		{TypePharmacy, "PHARMACY"},
	}

	for _, tt := range tests {
		t.Run(string(tt.orgType), func(t *testing.T) {
			if string(tt.orgType) != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, tt.orgType)
			}
		})
	}
}

func TestOrganisationCreation(t *testing.T) {
	org := Organisation{
		ID:        types.NewID(),
		ODSCode:   "B86030",
		Name:      "Park Road Surgery",
		Type:      TypeGPPractice,
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if org.ID.IsZero() {
		t.Error("Organisation ID should not be zero")
	}
	if org.ODSCode != "B86030" {
		t.Errorf("Expected ODS code 'B86030', got '%s'", org.ODSCode)
	}
	if org.Type != TypeGPPractice {
		t.Errorf("Expected type GP_PRACTICE, got '%s'", org.Type)
	}
}

func TestSendsDischargeLetters(t *testing.T) {
	optOut := false
	optIn := true

	tests := []struct {
		name       string
		preference *bool
		expected   bool
	}{
		{"no preference defaults to enabled", nil, true},
		{"explicit opt-in", &optIn, true},
		{"explicit opt-out", &optOut, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			org := Organisation{
				ID:               types.NewID(),
				ODSCode:          "B86030",
				Type:             TypeGPPractice,
				DischargeLetters: tt.preference,
			}
			if got := org.SendsDischargeLetters(); got != tt.expected {
				t.Errorf("SendsDischargeLetters() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCreateOrganisationRequest(t *testing.T) {
	optOut := false

	req := CreateOrganisationRequest{
		ODSCode:          "MSK001",
		Name:             "City Musculoskeletal Service",
		Type:             TypeMSKService,
		DischargeLetters: &optOut,
	}

	if req.ODSCode != "MSK001" {
		t.Errorf("Expected ODS code 'MSK001', got '%s'", req.ODSCode)
	}
	if req.DischargeLetters == nil || *req.DischargeLetters {
		t.Error("Expected discharge letters opt-out to carry through")
	}
}

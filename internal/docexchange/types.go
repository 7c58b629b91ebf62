package docexchange

import (
	"fmt"

	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// DocumentStatus is the per-record status vocabulary of the document
// exchange. It is external vocabulary and is reclassified into referral
// statuses by the discharge workflows, never stored directly.
type DocumentStatus string

const (
	DocumentReceived                 DocumentStatus = "Received"
	DocumentPending                  DocumentStatus = "DischargePending"
	DocumentAccepted                 DocumentStatus = "Accepted"
	DocumentRejected                 DocumentStatus = "Rejected"
	DocumentRejectionResolved        DocumentStatus = "RejectionResolved"
	DocumentOrganisationNotSupported DocumentStatus = "OrganisationNotSupported"
	DocumentAlreadySent              DocumentStatus = "AlreadySent"
)

var documentStatuses = []DocumentStatus{
	DocumentReceived, DocumentPending, DocumentAccepted, DocumentRejected,
	DocumentRejectionResolved, DocumentOrganisationNotSupported, DocumentAlreadySent,
}

// ParseDocumentStatus converts the wire value, erroring on vocabulary the
// exchange has not agreed with us
func ParseDocumentStatus(s string) (DocumentStatus, error) {
	for _, st := range documentStatuses {
		if DocumentStatus(s) == st {
			return st, nil
		}
	}
	return "", fmt.Errorf("unexpected document status %q", s)
}

// NotificationTarget is one destination of a discharge notification
type NotificationTarget struct {
	ODSCode    string `json:"odsCode"`
	TemplateID string `json:"templateId"`
}

// DischargeNotification is the per-referral payload posted to the
// discharge endpoint
type DischargeNotification struct {
	ReferralID           types.ID             `json:"referralId"`
	NHSNumber            string               `json:"nhsNumber"`
	GivenName            string               `json:"givenName"`
	FamilyName           string               `json:"familyName"`
	DateOfBirth          string               `json:"dateOfBirth"`
	ProviderName         string               `json:"providerName"`
	ProgrammeOutcome     string               `json:"programmeOutcome"`
	DateOfReferral       string               `json:"dateOfReferral"`
	DateStartedProgramme *string              `json:"dateStartedProgramme,omitempty"`
	DateCompleted        *string              `json:"dateCompletedProgramme,omitempty"`
	FirstRecordedWeight  *float64             `json:"firstRecordedWeight,omitempty"`
	DateOfFirstWeight    *string              `json:"dateOfFirstWeight,omitempty"`
	LastRecordedWeight   *float64             `json:"lastRecordedWeight,omitempty"`
	DateOfLastWeight     *string              `json:"dateOfLastWeight,omitempty"`
	Targets              []NotificationTarget `json:"targets"`
}

// SubmissionResult is the per-record outcome of a discharge submission
type SubmissionResult struct {
	ReferralID     types.ID       `json:"referralId"`
	DocumentStatus DocumentStatus `json:"documentStatus"`
	Message        string         `json:"message,omitempty"`
}

// UpdateResult is the response of the update endpoint for one referral.
// TemplateID names the template of the document the status refers to.
type UpdateResult struct {
	ReferralID     types.ID       `json:"referralId"`
	DocumentStatus DocumentStatus `json:"documentStatus"`
	UpdateStatus   string         `json:"updateStatus"`
	TemplateID     string         `json:"templateId"`
	Information    *string        `json:"information,omitempty"`
}

// errorBody is the structured 400 response of the exchange
type errorBody struct {
	Title  string              `json:"title"`
	Errors map[string][]string `json:"errors"`
}

package domain

import (
	"fmt"
	"strings"
)

// Status defines the lifecycle status of a referral.
//
// Core path:
//
//	New ──► TextMessage1/2 ──► ChatBotCall1 ──► ChatBotTransfer ──► RmcCall ──► RmcDelayed
//	  │
//	  └──► ProviderAwaitingStart ──► ProviderAccepted ──► ProviderContactedServiceUser
//	            │                                              │
//	            ▼                                              ▼
//	     ProviderAwaitingTrace                     AwaitingDischarge ──► SentForDischarge
//	                                                                         │
//	                                   Complete ◄── UnableToDischarge ◄──────┤
//	                                                DischargeAwaitingTrace ◄─┘
//
// Side branches reachable from multiple pre-discharge states:
// FailedToContact(TextMessage), RejectedToEreferrals, CancelledByEreferrals,
// Exception, Cancelled.
type Status string

const (
	StatusNew Status = "New"

	// Contact cascade
	StatusTextMessage1    Status = "TextMessage1"
	StatusTextMessage2    Status = "TextMessage2"
	StatusTextMessage3    Status = "TextMessage3"
	StatusChatBotCall1    Status = "ChatBotCall1"
	StatusChatBotTransfer Status = "ChatBotTransfer"
	StatusRmcCall         Status = "RmcCall"
	StatusRmcDelayed      Status = "RmcDelayed"

	// Provider track
	StatusProviderAwaitingStart        Status = "ProviderAwaitingStart"
	StatusProviderAwaitingTrace        Status = "ProviderAwaitingTrace"
	StatusProviderAccepted             Status = "ProviderAccepted"
	StatusProviderContactedServiceUser Status = "ProviderContactedServiceUser"

	// Provider outcomes. GP referrals use the non-suffixed variants; all
	// other sources use the TextMessage-suffixed variants because only GP
	// referrals are closed back through the referring-system channel.
	StatusProviderDeclinedByServiceUser            Status = "ProviderDeclinedByServiceUser"
	StatusProviderDeclinedByServiceUserTextMessage Status = "ProviderDeclinedByServiceUserTextMessage"
	StatusProviderRejected                         Status = "ProviderRejected"
	StatusProviderRejectedTextMessage              Status = "ProviderRejectedTextMessage"
	StatusProviderTerminated                       Status = "ProviderTerminated"
	StatusProviderTerminatedTextMessage            Status = "ProviderTerminatedTextMessage"
	StatusFailedToContact                          Status = "FailedToContact"
	StatusFailedToContactTextMessage               Status = "FailedToContactTextMessage"

	// Discharge track
	StatusAwaitingDischarge      Status = "AwaitingDischarge"
	StatusSentForDischarge       Status = "SentForDischarge"
	StatusDischargeAwaitingTrace Status = "DischargeAwaitingTrace"
	StatusUnableToDischarge      Status = "UnableToDischarge"
	StatusDischargeOnHold        Status = "DischargeOnHold"

	// Side branches
	StatusRejectedToEreferrals  Status = "RejectedToEreferrals"
	StatusCancelledByEreferrals Status = "CancelledByEreferrals"
	StatusException             Status = "Exception"

	// Terminal
	StatusComplete  Status = "Complete"
	StatusCancelled Status = "Cancelled"
)

var allStatuses = []Status{
	StatusNew,
	StatusTextMessage1, StatusTextMessage2, StatusTextMessage3,
	StatusChatBotCall1, StatusChatBotTransfer,
	StatusRmcCall, StatusRmcDelayed,
	StatusProviderAwaitingStart, StatusProviderAwaitingTrace,
	StatusProviderAccepted, StatusProviderContactedServiceUser,
	StatusProviderDeclinedByServiceUser, StatusProviderDeclinedByServiceUserTextMessage,
	StatusProviderRejected, StatusProviderRejectedTextMessage,
	StatusProviderTerminated, StatusProviderTerminatedTextMessage,
	StatusFailedToContact, StatusFailedToContactTextMessage,
	StatusAwaitingDischarge, StatusSentForDischarge,
	StatusDischargeAwaitingTrace, StatusUnableToDischarge, StatusDischargeOnHold,
	StatusRejectedToEreferrals, StatusCancelledByEreferrals, StatusException,
	StatusComplete, StatusCancelled,
}

// terminalStatuses are the end of a referral's life. Records in these
// states are never mutated again and never physically deleted.
var terminalStatuses = map[Status]bool{
	StatusComplete:              true,
	StatusCancelled:             true,
	StatusCancelledByEreferrals: true,
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values. Conversion from strings happens only at the persistence
// and wire boundaries.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if Status(s) == st {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown referral status %q", s)
}

// IsTerminal returns true when the status ends the referral's life
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// ProviderRule states the provider-linkage consistency a transition demands.
type ProviderRule int

const (
	ProviderAny ProviderRule = iota
	ProviderRequired
	ProviderForbidden
)

// TransitionRule is one named, hard-coded transition of the state machine.
// Target is a function of the referral source because contacting-failure
// and provider outcomes fan out by source.
type TransitionRule struct {
	Name               string
	Accepted           []Status
	Provider           ProviderRule
	SetsCompletionDate bool
	Target             func(ReferralSource) Status
}

// fixed builds a Target that ignores the referral source
func fixed(s Status) func(ReferralSource) Status {
	return func(ReferralSource) Status { return s }
}

// gpFanOut builds a Target that resolves to the non-suffixed status for GP
// referrals and the TextMessage-suffixed variant for every other source.
func gpFanOut(gp, other Status) func(ReferralSource) Status {
	return func(src ReferralSource) Status {
		if src == SourceGPReferral {
			return gp
		}
		return other
	}
}

// preProviderStatuses are all statuses before a provider has been selected
var preProviderStatuses = []Status{
	StatusNew,
	StatusTextMessage1, StatusTextMessage2, StatusTextMessage3,
	StatusChatBotCall1, StatusChatBotTransfer,
	StatusRmcCall, StatusRmcDelayed,
}

// postProviderStatuses are the statuses where a provider is linked but the
// discharge track has not begun
var postProviderStatuses = []Status{
	StatusProviderAwaitingStart, StatusProviderAwaitingTrace,
	StatusProviderAccepted, StatusProviderContactedServiceUser,
}

// Named transition rules. These are referral-domain-specific and
// intentionally not data-driven.
var (
	RuleTextMessage1 = TransitionRule{
		Name:     "send first text message",
		Accepted: []Status{StatusNew},
		Provider: ProviderForbidden,
		Target:   fixed(StatusTextMessage1),
	}
	RuleTextMessage2 = TransitionRule{
		Name:     "send second text message",
		Accepted: []Status{StatusTextMessage1},
		Provider: ProviderForbidden,
		Target:   fixed(StatusTextMessage2),
	}
	RuleChatBotCall1 = TransitionRule{
		Name:     "start chat bot call",
		Accepted: []Status{StatusTextMessage2},
		Provider: ProviderForbidden,
		Target:   fixed(StatusChatBotCall1),
	}
	RuleChatBotTransfer = TransitionRule{
		Name:     "transfer chat bot call",
		Accepted: []Status{StatusChatBotCall1},
		Provider: ProviderForbidden,
		Target:   fixed(StatusChatBotTransfer),
	}
	RuleRmcCall = TransitionRule{
		Name:     "start RMC call",
		Accepted: []Status{StatusChatBotTransfer},
		Provider: ProviderForbidden,
		Target:   fixed(StatusRmcCall),
	}
	RuleRmcDelayed = TransitionRule{
		Name:     "delay RMC call",
		Accepted: []Status{StatusRmcCall},
		Provider: ProviderForbidden,
		Target:   fixed(StatusRmcDelayed),
	}
	RuleTextMessage3 = TransitionRule{
		Name:     "send third text message",
		Accepted: []Status{StatusRmcCall, StatusRmcDelayed},
		Provider: ProviderForbidden,
		Target:   fixed(StatusTextMessage3),
	}
	RuleFailedToContact = TransitionRule{
		Name:     "mark failed to contact",
		Accepted: []Status{StatusTextMessage3, StatusRmcCall, StatusRmcDelayed},
		Provider: ProviderForbidden,
		Target:   gpFanOut(StatusFailedToContact, StatusFailedToContactTextMessage),
	}

	RuleSelectProvider = TransitionRule{
		Name:     "select provider",
		Accepted: preProviderStatuses,
		Provider: ProviderForbidden,
		Target:   fixed(StatusProviderAwaitingStart),
	}
	RuleProviderAwaitingTrace = TransitionRule{
		Name:     "mark provider awaiting trace",
		Accepted: []Status{StatusProviderAwaitingStart},
		Provider: ProviderRequired,
		Target:   fixed(StatusProviderAwaitingTrace),
	}
	RuleProviderAccepted = TransitionRule{
		Name:     "mark provider accepted",
		Accepted: []Status{StatusProviderAwaitingStart, StatusProviderAwaitingTrace},
		Provider: ProviderRequired,
		Target:   fixed(StatusProviderAccepted),
	}
	RuleProviderContacted = TransitionRule{
		Name:     "mark provider contacted service user",
		Accepted: []Status{StatusProviderAccepted},
		Provider: ProviderRequired,
		Target:   fixed(StatusProviderContactedServiceUser),
	}
	RuleProviderDeclined = TransitionRule{
		Name:     "mark provider declined by service user",
		Accepted: []Status{StatusProviderAccepted, StatusProviderContactedServiceUser},
		Provider: ProviderRequired,
		Target:   gpFanOut(StatusProviderDeclinedByServiceUser, StatusProviderDeclinedByServiceUserTextMessage),
	}
	RuleProviderRejected = TransitionRule{
		Name:     "mark provider rejected",
		Accepted: []Status{StatusProviderAccepted, StatusProviderContactedServiceUser},
		Provider: ProviderRequired,
		Target:   gpFanOut(StatusProviderRejected, StatusProviderRejectedTextMessage),
	}
	RuleProviderTerminated = TransitionRule{
		Name:     "mark provider terminated",
		Accepted: []Status{StatusProviderAccepted, StatusProviderContactedServiceUser},
		Provider: ProviderRequired,
		Target:   gpFanOut(StatusProviderTerminated, StatusProviderTerminatedTextMessage),
	}

	RuleRejectBeforeProviderSelection = TransitionRule{
		Name:     "reject before provider selection",
		Accepted: preProviderStatuses,
		Provider: ProviderForbidden,
		Target:   fixed(StatusRejectedToEreferrals),
	}
	RuleRejectAfterProviderSelection = TransitionRule{
		Name:     "reject after provider selection",
		Accepted: postProviderStatuses,
		Provider: ProviderRequired,
		Target:   fixed(StatusRejectedToEreferrals),
	}
	RuleCancelByEreferrals = TransitionRule{
		Name:     "cancel by e-Referrals",
		Accepted: preProviderStatuses,
		Provider: ProviderForbidden,
		Target:   fixed(StatusCancelledByEreferrals),
	}

	RuleAwaitingDischarge = TransitionRule{
		Name: "set awaiting discharge",
		Accepted: append(append([]Status{}, postProviderStatuses...),
			StatusProviderDeclinedByServiceUser, StatusProviderDeclinedByServiceUserTextMessage,
			StatusProviderRejected, StatusProviderRejectedTextMessage,
			StatusProviderTerminated, StatusProviderTerminatedTextMessage,
			StatusSentForDischarge, StatusDischargeAwaitingTrace,
			StatusUnableToDischarge, StatusDischargeOnHold),
		Provider: ProviderRequired,
		Target:   fixed(StatusAwaitingDischarge),
	}
	RuleDischargeOnHold = TransitionRule{
		Name: "place discharge on hold",
		Accepted: append(append([]Status{}, postProviderStatuses...),
			StatusAwaitingDischarge),
		Provider: ProviderRequired,
		Target:   fixed(StatusDischargeOnHold),
	}
	RuleSentForDischarge = TransitionRule{
		Name:     "send for discharge",
		Accepted: []Status{StatusAwaitingDischarge},
		Provider: ProviderRequired,
		Target:   fixed(StatusSentForDischarge),
	}
	RuleDischargeAwaitingTrace = TransitionRule{
		Name:     "mark discharge awaiting trace",
		Accepted: []Status{StatusSentForDischarge},
		Provider: ProviderRequired,
		Target:   fixed(StatusDischargeAwaitingTrace),
	}
	RuleUnableToDischarge = TransitionRule{
		Name:     "mark unable to discharge",
		Accepted: []Status{StatusSentForDischarge, StatusDischargeAwaitingTrace},
		Provider: ProviderRequired,
		Target:   fixed(StatusUnableToDischarge),
	}
	RuleComplete = TransitionRule{
		Name: "complete referral",
		Accepted: append(append([]Status{}, postProviderStatuses...),
			StatusAwaitingDischarge, StatusSentForDischarge,
			StatusDischargeAwaitingTrace, StatusUnableToDischarge,
			StatusDischargeOnHold),
		Provider:           ProviderRequired,
		SetsCompletionDate: true,
		Target:             fixed(StatusComplete),
	}

	RuleException = TransitionRule{
		Name:     "mark exception",
		Accepted: nonTerminalStatuses(),
		Provider: ProviderAny,
		Target:   fixed(StatusException),
	}
	RuleRehabilitateException = TransitionRule{
		Name:     "rehabilitate exception",
		Accepted: []Status{StatusException},
		Provider: ProviderAny,
		Target:   fixed(StatusRejectedToEreferrals),
	}
	RuleCancel = TransitionRule{
		Name:     "cancel referral",
		Accepted: nonTerminalStatuses(),
		Provider: ProviderAny,
		Target:   fixed(StatusCancelled),
	}
)

func nonTerminalStatuses() []Status {
	var out []Status
	for _, s := range allStatuses {
		if !s.IsTerminal() {
			out = append(out, s)
		}
	}
	return out
}

// formatStatuses renders an accepted set verbatim for error messages
func formatStatuses(statuses []Status) string {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

package action

import "time"

// Static per-type defaults. The coarse risk level is assigned at creation
// time; the full weighted assessment happens later, when approval is
// requested.

var initialRiskLevels = map[Type]RiskLevel{
	TypeSendEmail:        RiskMedium,
	TypeMakeCall:         RiskHigh,
	TypeScheduleMeeting:  RiskLow,
	TypeUpdateCRM:        RiskLow,
	TypeCreateTask:       RiskLow,
	TypeSendDocument:     RiskHigh,
	TypeSendNotification: RiskLow,
	TypeGenerateContent:  RiskLow,
}

// Known reports whether the type is one the core understands.
func Known(actionType Type) bool {
	_, ok := initialRiskLevels[actionType]
	return ok
}

// InitialRiskLevel returns the coarse static risk classification for a type.
func InitialRiskLevel(actionType Type) RiskLevel {
	if level, ok := initialRiskLevels[actionType]; ok {
		return level
	}
	return RiskMedium
}

var defaultTimeouts = map[Type]time.Duration{
	TypeSendEmail:        30 * time.Second,
	TypeMakeCall:         5 * time.Minute,
	TypeScheduleMeeting:  30 * time.Second,
	TypeUpdateCRM:        15 * time.Second,
	TypeCreateTask:       15 * time.Second,
	TypeSendDocument:     time.Minute,
	TypeSendNotification: 15 * time.Second,
	TypeGenerateContent:  2 * time.Minute,
}

// DefaultTimeout returns the per-type execution timeout.
func DefaultTimeout(actionType Type) time.Duration {
	if timeout, ok := defaultTimeouts[actionType]; ok {
		return timeout
	}
	return 30 * time.Second
}

var requiredParameters = map[Type][]string{
	TypeSendEmail:        {"to", "subject", "content"},
	TypeMakeCall:         {"phoneNumber"},
	TypeScheduleMeeting:  {"title", "attendees", "startTime"},
	TypeUpdateCRM:        {"recordId", "fields"},
	TypeCreateTask:       {"title"},
	TypeSendDocument:     {"documentId", "recipients"},
	TypeSendNotification: {"to", "content"},
	TypeGenerateContent:  {"prompt"},
}

// RequiredParameters lists the parameter fields that must be present for a
// type at creation time.
func RequiredParameters(actionType Type) []string {
	return requiredParameters[actionType]
}

// approvalByDefault lists types that always need human sign-off unless the
// caller explicitly overrides the flag.
var approvalByDefault = map[Type]bool{
	TypeSendEmail:       true,
	TypeMakeCall:        true,
	TypeScheduleMeeting: true,
}

// DefaultRequiresApproval reports whether the type, parameter bag or
// recipient volume mandates approval by default.
func DefaultRequiresApproval(actionType Type, parameters map[string]interface{}) bool {
	if approvalByDefault[actionType] {
		return true
	}
	if IsBulk(parameters) || RecipientCount(parameters) > 5 {
		return true
	}
	return false
}

// TextBearing reports whether the action carries outbound prose that should
// be passed through the writing-style service before dispatch.
func TextBearing(actionType Type) bool {
	return actionType == TypeSendEmail || actionType == TypeSendNotification
}

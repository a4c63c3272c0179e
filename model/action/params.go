package action

import (
	"fmt"

	"github.com/viant/structology/conv"
)

// Typed views over the open parameter bag. The map remains the source of
// truth so that unknown fields survive round-trips; the typed structs give
// risk scoring and executors strong typing for the fields they depend on.

// EmailParams describes send_email and send_notification parameters.
type EmailParams struct {
	To      []string `json:"to,omitempty"`
	CC      []string `json:"cc,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Content string   `json:"content,omitempty"`
	Bulk    bool     `json:"bulk,omitempty"`
}

// CallParams describes make_call parameters.
type CallParams struct {
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Script      string `json:"script,omitempty"`
	Recorded    bool   `json:"recorded,omitempty"`
}

// MeetingParams describes schedule_meeting parameters.
type MeetingParams struct {
	Title     string   `json:"title,omitempty"`
	Attendees []string `json:"attendees,omitempty"`
	StartTime string   `json:"startTime,omitempty"`
	Duration  int      `json:"duration,omitempty"`
}

// CRMParams describes update_crm parameters.
type CRMParams struct {
	RecordID string                 `json:"recordId,omitempty"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// DocumentParams describes send_document parameters.
type DocumentParams struct {
	DocumentID string   `json:"documentId,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Signed     bool     `json:"signed,omitempty"`
}

var converter = newConverter()

func newConverter() *conv.Converter {
	options := conv.DefaultOptions()
	options.ClonePointerData = true
	options.IgnoreUnmapped = true
	return conv.NewConverter(options)
}

// DecodeParams converts the open parameter map into the requested typed view.
func DecodeParams[T any](parameters map[string]interface{}) (*T, error) {
	out := new(T)
	if err := converter.Convert(parameters, out); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	return out, nil
}

// RecipientCount returns the number of recipients referenced by the
// parameter bag, looking at the well-known "to", "recipients" and
// "attendees" fields.
func RecipientCount(parameters map[string]interface{}) int {
	count := 0
	for _, field := range []string{"to", "recipients", "attendees", "cc"} {
		switch value := parameters[field].(type) {
		case []string:
			count += len(value)
		case []interface{}:
			count += len(value)
		case string:
			if value != "" {
				count++
			}
		}
	}
	return count
}

// IsBulk reports whether the parameter bag flags a bulk operation.
func IsBulk(parameters map[string]interface{}) bool {
	if flag, ok := parameters["bulk"].(bool); ok && flag {
		return true
	}
	return false
}

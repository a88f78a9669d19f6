package service

import (
	"fmt"
	"strings"

	"opsflow/internal/audit"
	"opsflow/internal/requests/models"
)

const (
	eventCreated          = "CREATED"
	eventUpdated          = "UPDATED"
	eventApprovalRecorded = "APPROVAL_RECORDED"
)

// auditAction names an event for the variant, e.g. LEAVE_REQUEST_APPROVED.
// Incidents are reported rather than created.
func auditAction(v models.Variant, event string) audit.Action {
	switch v {
	case models.VariantIncident:
		if event == eventCreated {
			return "INCIDENT_REPORTED"
		}
		return audit.Action("INCIDENT_" + event)
	default:
		return audit.Action(string(v) + "_REQUEST_" + event)
	}
}

func noun(v models.Variant) string {
	switch v {
	case models.VariantIncident:
		return "incident report"
	default:
		return strings.ToLower(string(v)) + " request"
	}
}

func statusMessage(v models.Variant, to models.Status, reason string) string {
	msg := fmt.Sprintf("Your %s has been %s", noun(v), strings.ToLower(string(to)))
	if to == models.StatusRejected && reason != "" {
		msg += ": " + reason
	}
	return msg
}

func levelMessage(v models.Variant, cleared, next models.Level) string {
	return fmt.Sprintf("Your %s was approved at %s and is awaiting %s", noun(v), cleared, next)
}

package models

import (
	"time"

	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
)

type ApprovalAction string

const (
	ActionApprove ApprovalAction = "APPROVE"
	ActionReject  ApprovalAction = "REJECT"
)

type ApprovalStatus string

const (
	ApprovalCompleted ApprovalStatus = "COMPLETED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
)

// Approval records one approver decision at one chain level. Orders per
// request run 1, 2, 3... without gaps.
type Approval struct {
	ID         id.ApprovalID  `json:"id"`
	RequestID  id.RequestID   `json:"request_id"`
	ApproverID id.UserID      `json:"approver_id"`
	Level      Level          `json:"level"`
	Action     ApprovalAction `json:"action"`
	Status     ApprovalStatus `json:"status"`
	Comments   string         `json:"comments,omitempty"`
	Order      int            `json:"order"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NextOrder returns the order the next approval row must take.
func NextOrder(existing []Approval) int {
	return len(existing) + 1
}

func NewApproval(
	approvalID id.ApprovalID,
	requestID id.RequestID,
	approverID id.UserID,
	level Level,
	action ApprovalAction,
	comments string,
	order int,
	now time.Time,
) (*Approval, error) {
	if order < 1 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "approval order starts at 1")
	}
	if !level.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid approval level")
	}
	status := ApprovalCompleted
	switch action {
	case ActionApprove:
	case ActionReject:
		status = ApprovalRejected
	default:
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid approval action")
	}
	if err := checkText("comments", comments, false); err != nil {
		return nil, err
	}
	return &Approval{
		ID:         approvalID,
		RequestID:  requestID,
		ApproverID: approverID,
		Level:      level,
		Action:     action,
		Status:     status,
		Comments:   comments,
		Order:      order,
		CreatedAt:  now,
	}, nil
}

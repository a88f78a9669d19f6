package handler

import (
	"time"

	"opsflow/internal/requests/models"
	"opsflow/internal/requests/service"
	id "opsflow/pkg/domain"
)

type RequestResponse struct {
	ID            id.RequestID          `json:"id"`
	Type          models.Variant        `json:"type"`
	RequesterID   id.UserID             `json:"requester_id"`
	Department    string                `json:"department,omitempty"`
	Status        models.Status         `json:"status"`
	Chain         models.Chain          `json:"approval_chain"`
	CurrentLevel  *models.Level         `json:"current_level,omitempty"`
	StatusHistory []models.StatusChange `json:"status_history"`
	Details       models.Details        `json:"details"`
	Approvals     []models.Approval     `json:"approvals,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	Version       int                   `json:"version"`
}

func FromRequest(req *models.Request) *RequestResponse {
	return &RequestResponse{
		ID:            req.ID,
		Type:          req.Variant(),
		RequesterID:   req.RequesterID,
		Department:    req.Department,
		Status:        req.Status,
		Chain:         req.Chain,
		StatusHistory: req.History,
		Details:       req.Details,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
		Version:       req.Version,
	}
}

func FromDetail(d *models.RequestDetail) *RequestResponse {
	resp := FromRequest(d.Request)
	resp.CurrentLevel = d.CurrentLevel
	resp.Approvals = d.Approvals
	return resp
}

type ListResponse struct {
	Items []*RequestResponse `json:"items"`
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

func FromPage(p *models.Page) *ListResponse {
	items := make([]*RequestResponse, 0, len(p.Items))
	for _, req := range p.Items {
		items = append(items, FromRequest(req))
	}
	return &ListResponse{Items: items, Total: p.Total, Page: p.Page, Limit: p.Limit}
}

type CompletionResponse struct {
	Completed []id.RequestID `json:"completed"`
	Skipped   []id.RequestID `json:"skipped"`
}

func FromCompletionReport(r *service.CompletionReport) *CompletionResponse {
	resp := &CompletionResponse{Completed: r.Completed, Skipped: r.Skipped}
	if resp.Completed == nil {
		resp.Completed = []id.RequestID{}
	}
	if resp.Skipped == nil {
		resp.Skipped = []id.RequestID{}
	}
	return resp
}

package handler

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"opsflow/internal/requests/models"
	id "opsflow/pkg/domain"
	dErrors "opsflow/pkg/domain-errors"
	liststrings "opsflow/pkg/platform/strings"
)

const dateLayout = "2006-01-02"

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, field+" must be a date in YYYY-MM-DD form")
	}
	return t, nil
}

// LeaveRequest is the body of POST /v1/leave.
type LeaveRequest struct {
	Type            string        `json:"type"`
	StartDate       string        `json:"start_date"`
	EndDate         string        `json:"end_date"`
	Reason          string        `json:"reason"`
	AdditionalNotes string        `json:"additional_notes"`
	StandIn         *StandInInput `json:"stand_in"`
}

type StandInInput struct {
	LocumID        string `json:"locum_id"`
	DailyRateCents int64  `json:"daily_rate_cents"`
}

// ToModel parses the wire form. Content rules are checked by the model.
func (r *LeaveRequest) ToModel() (*models.Leave, error) {
	start, err := parseDate("start_date", r.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("end_date", r.EndDate)
	if err != nil {
		return nil, err
	}
	leave := &models.Leave{
		Type:            models.LeaveType(strings.ToUpper(strings.TrimSpace(r.Type))),
		StartDate:       start,
		EndDate:         end,
		Reason:          strings.TrimSpace(r.Reason),
		AdditionalNotes: strings.TrimSpace(r.AdditionalNotes),
	}
	if r.StandIn != nil {
		locum, err := id.ParseUserID(r.StandIn.LocumID)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeValidation, "stand_in.locum_id must be a UUID")
		}
		leave.StandIn = &models.StandIn{LocumID: locum, DailyRateCents: r.StandIn.DailyRateCents}
	}
	return leave, nil
}

// IncidentRequest is the body of POST /v1/incident.
type IncidentRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
}

func (r *IncidentRequest) ToModel() *models.Incident {
	return &models.Incident{
		Title:       strings.TrimSpace(r.Title),
		Description: strings.TrimSpace(r.Description),
		Location:    strings.TrimSpace(r.Location),
		Category:    models.IncidentCategory(strings.ToUpper(strings.TrimSpace(r.Category))),
		Severity:    models.Severity(strings.ToUpper(strings.TrimSpace(r.Severity))),
	}
}

// OperationRequest is the body of POST /v1/operation.
type OperationRequest struct {
	ItemName           string `json:"item_name"`
	Description        string `json:"description"`
	Justification      string `json:"justification"`
	Urgency            string `json:"urgency"`
	EstimatedCostCents int64  `json:"estimated_cost_cents"`
	RequiresFinance    bool   `json:"requires_finance"`
}

func (r *OperationRequest) ToModel() *models.Operation {
	return &models.Operation{
		ItemName:           strings.TrimSpace(r.ItemName),
		Description:        strings.TrimSpace(r.Description),
		Justification:      strings.TrimSpace(r.Justification),
		Urgency:            models.Severity(strings.ToUpper(strings.TrimSpace(r.Urgency))),
		EstimatedCostCents: r.EstimatedCostCents,
		RequiresFinance:    r.RequiresFinance,
	}
}

// UpdateRequest is the body of PATCH /v1/requests/{id}. Absent fields are
// left alone.
type UpdateRequest struct {
	Reason          *string `json:"reason"`
	AdditionalNotes *string `json:"additional_notes"`
	StartDate       *string `json:"start_date"`
	EndDate         *string `json:"end_date"`
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Location        *string `json:"location"`
	Justification   *string `json:"justification"`
}

func (r *UpdateRequest) ToEdit() (models.ContentEdit, error) {
	edit := models.ContentEdit{
		Reason:          r.Reason,
		AdditionalNotes: r.AdditionalNotes,
		Title:           r.Title,
		Description:     r.Description,
		Location:        r.Location,
		Justification:   r.Justification,
	}
	if r.StartDate != nil {
		t, err := parseDate("start_date", *r.StartDate)
		if err != nil {
			return edit, err
		}
		edit.StartDate = &t
	}
	if r.EndDate != nil {
		t, err := parseDate("end_date", *r.EndDate)
		if err != nil {
			return edit, err
		}
		edit.EndDate = &t
	}
	return edit, nil
}

// DecisionRequest is the body of approve and reject calls. Level echoes the
// current_level the caller read and is required.
type DecisionRequest struct {
	Level    string `json:"level"`
	Comments string `json:"comments"`
	Reason   string `json:"reason"`
}

func (r *DecisionRequest) ParsedLevel() (models.Level, error) {
	lvl := models.Level(strings.ToUpper(strings.TrimSpace(r.Level)))
	if lvl == "" {
		return "", dErrors.New(dErrors.CodeValidation, "level is required")
	}
	if !lvl.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown approval level")
	}
	return lvl, nil
}

// parseListFilter reads status, type, page and limit query parameters.
func parseListFilter(q url.Values) (models.ListFilter, error) {
	var f models.ListFilter
	if s := strings.TrimSpace(q.Get("status")); s != "" {
		st := models.Status(strings.ToUpper(s))
		if !st.IsValid() {
			return f, dErrors.New(dErrors.CodeValidation, "unknown status filter")
		}
		f.Status = st
	}
	for _, part := range liststrings.SplitListUpper(q.Get("type")) {
		v, err := models.ParseVariant(part)
		if err != nil {
			return f, err
		}
		f.Variants = append(f.Variants, v)
	}
	var err error
	if f.Page, err = intParam(q, "page", models.MaxPage); err != nil {
		return f, err
	}
	if f.Limit, err = intParam(q, "limit", math.MaxInt); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(q url.Values, name string, maxValue int) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, dErrors.New(dErrors.CodeValidation, name+" must be a positive integer")
	}
	if n > maxValue {
		return 0, dErrors.New(dErrors.CodeValidation, name+" must be at most "+strconv.Itoa(maxValue))
	}
	return n, nil
}

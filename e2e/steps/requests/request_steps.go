package requests

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the suite context these steps need.
type TestContext interface {
	POST(path string, body any) error
	PATCH(path string, body any) error
	GET(path string) error
	AdminPOST(path string) error
	ActorID(name string) string
	Save(key, value string)
	Saved(key string) (string, error)
	ResponseField(field string) (any, error)
	LastStatus() int
}

// RegisterSteps registers submission, decision and completion steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &requestSteps{tc: tc}

	ctx.Step(`^I submit annual leave from "([^"]*)" to "([^"]*)"$`, steps.submitLeave)
	ctx.Step(`^I submit annual leave from "([^"]*)" to "([^"]*)" covered by "([^"]*)" at (\d+) cents a day$`, steps.submitCoveredLeave)
	ctx.Step(`^I submit a ([A-Z]+) incident "([^"]*)"$`, steps.submitIncident)
	ctx.Step(`^I submit an operation for "([^"]*)" costing (\d+) cents$`, steps.submitOperation)
	ctx.Step(`^I save the request as "([^"]*)"$`, steps.saveRequest)

	ctx.Step(`^I approve "([^"]*)"$`, steps.approve)
	ctx.Step(`^I reject "([^"]*)" because "([^"]*)"$`, steps.reject)
	ctx.Step(`^I cancel "([^"]*)"$`, steps.cancel)
	ctx.Step(`^I change the reason of "([^"]*)" to "([^"]*)"$`, steps.updateReason)
	ctx.Step(`^I fetch "([^"]*)"$`, steps.fetch)
	ctx.Step(`^I list requests awaiting review$`, steps.listReview)
	ctx.Step(`^the review list should contain "([^"]*)"$`, steps.listShouldContain)
	ctx.Step(`^the completion hook runs for "([^"]*)"$`, steps.runCompletion)
	ctx.Step(`^the completion report should list "([^"]*)" as completed$`, steps.completedShouldContain)
}

type requestSteps struct {
	tc TestContext
}

func (s *requestSteps) submitLeave(_ context.Context, start, end string) error {
	return s.tc.POST("/v1/leave", map[string]any{
		"type":       "ANNUAL",
		"start_date": start,
		"end_date":   end,
		"reason":     "e2e leave",
	})
}

func (s *requestSteps) submitCoveredLeave(_ context.Context, start, end, locum string, rate int64) error {
	return s.tc.POST("/v1/leave", map[string]any{
		"type":       "ANNUAL",
		"start_date": start,
		"end_date":   end,
		"reason":     "e2e leave",
		"stand_in": map[string]any{
			"locum_id":         s.tc.ActorID(locum),
			"daily_rate_cents": rate,
		},
	})
}

func (s *requestSteps) submitIncident(_ context.Context, severity, title string) error {
	return s.tc.POST("/v1/incident", map[string]any{
		"title":       title,
		"description": "reported from e2e",
		"category":    "FACILITY",
		"severity":    severity,
	})
}

func (s *requestSteps) submitOperation(_ context.Context, item string, cost int64) error {
	return s.tc.POST("/v1/operation", map[string]any{
		"item_name":            item,
		"justification":        "e2e purchase",
		"urgency":              "MEDIUM",
		"estimated_cost_cents": cost,
	})
}

func (s *requestSteps) saveRequest(_ context.Context, key string) error {
	v, err := s.tc.ResponseField("id")
	if err != nil {
		return err
	}
	s.tc.Save(key, fmt.Sprint(v))
	return nil
}

func (s *requestSteps) path(key, suffix string) (string, error) {
	requestID, err := s.tc.Saved(key)
	if err != nil {
		return "", err
	}
	return "/v1/requests/" + url.PathEscape(requestID) + suffix, nil
}

// currentLevel reads the level the acting user would decide at. Actors who
// cannot view the request fall back to the first level of every chain.
func (s *requestSteps) currentLevel(key string) (string, error) {
	p, err := s.path(key, "")
	if err != nil {
		return "", err
	}
	if err := s.tc.GET(p); err != nil {
		return "", err
	}
	if s.tc.LastStatus() == http.StatusOK {
		if v, err := s.tc.ResponseField("current_level"); err == nil {
			if lvl, ok := v.(string); ok {
				return lvl, nil
			}
		}
	}
	return "LINE_MANAGER", nil
}

func (s *requestSteps) approve(_ context.Context, key string) error {
	level, err := s.currentLevel(key)
	if err != nil {
		return err
	}
	p, err := s.path(key, "/approve")
	if err != nil {
		return err
	}
	return s.tc.POST(p, map[string]any{"level": level, "comments": "looks fine"})
}

func (s *requestSteps) reject(_ context.Context, key, reason string) error {
	level, err := s.currentLevel(key)
	if err != nil {
		return err
	}
	p, err := s.path(key, "/reject")
	if err != nil {
		return err
	}
	return s.tc.POST(p, map[string]any{"level": level, "reason": reason})
}

func (s *requestSteps) cancel(_ context.Context, key string) error {
	p, err := s.path(key, "/cancel")
	if err != nil {
		return err
	}
	return s.tc.POST(p, nil)
}

func (s *requestSteps) updateReason(_ context.Context, key, reason string) error {
	p, err := s.path(key, "")
	if err != nil {
		return err
	}
	return s.tc.PATCH(p, map[string]any{"reason": reason})
}

func (s *requestSteps) fetch(_ context.Context, key string) error {
	p, err := s.path(key, "")
	if err != nil {
		return err
	}
	return s.tc.GET(p)
}

func (s *requestSteps) listReview(_ context.Context) error {
	return s.tc.GET("/v1/requests/review?limit=100")
}

func (s *requestSteps) listShouldContain(_ context.Context, key string) error {
	requestID, err := s.tc.Saved(key)
	if err != nil {
		return err
	}
	items, err := s.tc.ResponseField("items")
	if err != nil {
		return err
	}
	list, _ := items.([]any)
	for _, it := range list {
		if m, ok := it.(map[string]any); ok && m["id"] == requestID {
			return nil
		}
	}
	return fmt.Errorf("request %s not in review list", requestID)
}

func (s *requestSteps) runCompletion(_ context.Context, date string) error {
	return s.tc.AdminPOST("/internal/completions?date=" + url.QueryEscape(date))
}

func (s *requestSteps) completedShouldContain(_ context.Context, key string) error {
	requestID, err := s.tc.Saved(key)
	if err != nil {
		return err
	}
	completed, err := s.tc.ResponseField("completed")
	if err != nil {
		return err
	}
	list, _ := completed.([]any)
	for _, v := range list {
		if v == requestID {
			return nil
		}
	}
	return fmt.Errorf("request %s not completed: %v", requestID, list)
}

package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the suite context these steps need.
type TestContext interface {
	GET(path string) error
	LastStatus() int
	LastHeader(name string) string
}

// RegisterSteps registers per-actor throttling steps. Scenarios using them
// assume the server runs with a small OPSFLOW_RATELIMIT_READ.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I list my requests until I am throttled, at most (\d+) times$`, steps.readUntilThrottled)
	ctx.Step(`^I should have been throttled$`, steps.shouldBeThrottled)
	ctx.Step(`^the response should carry rate limit headers$`, steps.shouldCarryHeaders)
}

type ratelimitSteps struct {
	tc        TestContext
	throttled bool
}

func (s *ratelimitSteps) readUntilThrottled(_ context.Context, attempts int) error {
	for range attempts {
		if err := s.tc.GET("/v1/requests/mine"); err != nil {
			return err
		}
		if s.tc.LastStatus() == 429 {
			s.throttled = true
			return nil
		}
	}
	return nil
}

func (s *ratelimitSteps) shouldBeThrottled(_ context.Context) error {
	if !s.throttled {
		return fmt.Errorf("never throttled, last status %d", s.tc.LastStatus())
	}
	retry, err := strconv.Atoi(s.tc.LastHeader("Retry-After"))
	if err != nil || retry < 1 {
		return fmt.Errorf("expected a positive Retry-After, got %q", s.tc.LastHeader("Retry-After"))
	}
	return nil
}

func (s *ratelimitSteps) shouldCarryHeaders(_ context.Context) error {
	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if s.tc.LastHeader(h) == "" {
			return fmt.Errorf("missing header %s", h)
		}
	}
	return nil
}

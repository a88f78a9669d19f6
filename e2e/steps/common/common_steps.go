package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext is the slice of the suite context these steps need.
type TestContext interface {
	SignIn(name, role, department string) error
	ActAs(name string) error
	LastStatus() int
	LastBody() []byte
	ResponseField(field string) (any, error)
}

// RegisterSteps registers actor setup and generic response assertions.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^"([^"]*)" is an? ([A-Z_]+)(?: in "([^"]*)")?$`, steps.signIn)
	ctx.Step(`^I act as "([^"]*)"$`, steps.actAs)
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
	ctx.Step(`^the error should be "([^"]*)"$`, steps.errorShouldBe)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) signIn(_ context.Context, name, role, department string) error {
	return s.tc.SignIn(name, role, department)
}

func (s *commonSteps) actAs(_ context.Context, name string) error {
	return s.tc.ActAs(name)
}

func (s *commonSteps) statusShouldBe(_ context.Context, want int) error {
	if got := s.tc.LastStatus(); got != want {
		return fmt.Errorf("expected status %d, got %d: %s", want, got, strings.TrimSpace(string(s.tc.LastBody())))
	}
	return nil
}

func (s *commonSteps) fieldShouldBe(_ context.Context, field, want string) error {
	v, err := s.tc.ResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("expected %s to be %q, got %q", field, want, got)
	}
	return nil
}

func (s *commonSteps) errorShouldBe(ctx context.Context, code string) error {
	return s.fieldShouldBe(ctx, "error", code)
}

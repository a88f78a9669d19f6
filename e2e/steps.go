package e2e

import (
	"github.com/cucumber/godog"

	"opsflow/e2e/steps/common"
	"opsflow/e2e/steps/ratelimit"
	"opsflow/e2e/steps/requests"
)

// RegisterSteps registers step definitions from every step package.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	requests.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
}

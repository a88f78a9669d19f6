// Package e2e drives a running opsflow server through Gherkin scenarios.
// Actors are minted locally with the server's signing key, so the suite needs
// OPSFLOW_E2E_URL and OPSFLOW_JWT_SIGNING_KEY to point at the same deployment.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type actor struct {
	id    string
	token string
}

// TestContext holds per-scenario HTTP state. A fresh one is built for every
// scenario so saved request IDs never leak between them.
type TestContext struct {
	baseURL    string
	signingKey []byte
	issuer     string
	adminToken string
	client     *http.Client

	actors  map[string]actor
	current string
	saved   map[string]string

	lastStatus  int
	lastHeaders http.Header
	lastBody    []byte
}

func NewTestContext() *TestContext {
	return &TestContext{
		baseURL:    strings.TrimRight(os.Getenv("OPSFLOW_E2E_URL"), "/"),
		signingKey: []byte(os.Getenv("OPSFLOW_JWT_SIGNING_KEY")),
		issuer:     envOr("OPSFLOW_JWT_ISSUER", "opsflow"),
		adminToken: os.Getenv("OPSFLOW_ADMIN_TOKEN"),
		client:     &http.Client{Timeout: 10 * time.Second},
		actors:     map[string]actor{},
		saved:      map[string]string{},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SignIn registers name as a fresh user with role and department and makes it
// the current caller.
func (tc *TestContext) SignIn(name, role, department string) error {
	userID := uuid.NewString()
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":        userID,
		"iss":        tc.issuer,
		"iat":        now.Unix(),
		"exp":        now.Add(time.Hour).Unix(),
		"jti":        uuid.NewString(),
		"role":       role,
		"department": department,
	})
	signed, err := token.SignedString(tc.signingKey)
	if err != nil {
		return fmt.Errorf("sign token for %s: %w", name, err)
	}
	tc.actors[name] = actor{id: userID, token: signed}
	tc.current = name
	return nil
}

// ActAs switches the current caller to a previously signed-in actor.
func (tc *TestContext) ActAs(name string) error {
	if _, ok := tc.actors[name]; !ok {
		return fmt.Errorf("unknown actor %q", name)
	}
	tc.current = name
	return nil
}

func (tc *TestContext) ActorID(name string) string {
	return tc.actors[name].id
}

func (tc *TestContext) Save(key, value string) { tc.saved[key] = value }

func (tc *TestContext) Saved(key string) (string, error) {
	v, ok := tc.saved[key]
	if !ok {
		return "", fmt.Errorf("nothing saved under %q", key)
	}
	return v, nil
}

func (tc *TestContext) POST(path string, body any) error {
	return tc.do(http.MethodPost, path, body, nil)
}

func (tc *TestContext) PATCH(path string, body any) error {
	return tc.do(http.MethodPatch, path, body, nil)
}

func (tc *TestContext) GET(path string) error {
	return tc.do(http.MethodGet, path, nil, nil)
}

// AdminPOST calls an internal route with the admin token instead of a bearer.
func (tc *TestContext) AdminPOST(path string) error {
	return tc.do(http.MethodPost, path, nil, map[string]string{"X-Admin-Token": tc.adminToken})
}

func (tc *TestContext) do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, tc.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		if a, ok := tc.actors[tc.current]; ok {
			req.Header.Set("Authorization", "Bearer "+a.token)
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	tc.lastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	tc.lastStatus = resp.StatusCode
	tc.lastHeaders = resp.Header
	return nil
}

func (tc *TestContext) LastStatus() int { return tc.lastStatus }

func (tc *TestContext) LastHeader(name string) string { return tc.lastHeaders.Get(name) }

func (tc *TestContext) LastBody() []byte { return tc.lastBody }

// ResponseField reads a top-level field of the last JSON response.
func (tc *TestContext) ResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("response has no field %q: %s", field, tc.lastBody)
	}
	return v, nil
}

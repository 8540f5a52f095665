// Package testutil holds helpers shared by the integration suites: containers,
// an API client that checks responses against the OpenAPI document, and a
// Mailpit client.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// unvalidatedPaths are plain-text probes outside the API document.
var unvalidatedPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/version": true,
}

// OpenAPIValidator checks API exchanges against api/openapi/openapi.yaml.
type OpenAPIValidator struct {
	router routers.Router
}

// NewOpenAPIValidator is LoadOpenAPIValidator for use inside a test.
func NewOpenAPIValidator(t *testing.T, specPath string) *OpenAPIValidator {
	t.Helper()

	v, err := LoadOpenAPIValidator(specPath)
	if err != nil {
		t.Fatalf("load OpenAPI validator: %v", err)
	}
	return v
}

// LoadOpenAPIValidator parses and validates the document at specPath.
func LoadOpenAPIValidator(specPath string) (*OpenAPIValidator, error) {
	doc, err := openapi3.NewLoader().LoadFromFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI spec from %s: %w", specPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate OpenAPI spec: %w", err)
	}

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create OpenAPI router: %w", err)
	}
	return &OpenAPIValidator{router: router}, nil
}

// ValidateExchange checks the request (with its JSON body) and the response.
// The response body is read and put back so callers can still decode it.
func (v *OpenAPIValidator) ValidateExchange(t *testing.T, method, path string, reqBody []byte, resp *http.Response) {
	t.Helper()

	req, err := http.NewRequest(method, path, bytes.NewReader(reqBody))
	if err != nil {
		t.Errorf("build validation request: %v", err)
		return
	}
	if unvalidatedPaths[req.URL.Path] {
		return
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		t.Errorf("OpenAPI: no route for %s %s: %v", method, req.URL.Path, err)
		return
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			MultiError:         true,
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}

	// Rejections of malformed requests are part of the contract too, so only
	// requests the server accepted must match the request schema.
	if resp.StatusCode < http.StatusBadRequest {
		if err := openapi3filter.ValidateRequest(context.Background(), input); err != nil {
			t.Errorf("OpenAPI request validation failed for %s %s: %v", method, req.URL.Path, err)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Errorf("read response body: %v", err)
		return
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	err = openapi3filter.ValidateResponse(context.Background(), &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 resp.StatusCode,
		Header:                 resp.Header,
		Body:                   io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{
			MultiError:            true,
			IncludeResponseStatus: true,
		},
	})
	if err != nil {
		t.Errorf("OpenAPI response validation failed for %s %s (status %d):\n%s\nbody: %s",
			method, req.URL.Path, resp.StatusCode, clip(err.Error(), 500), clip(string(body), 200))
	}
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// Package policy provides the HTTP client for the external Open Policy
// Agent evaluator.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	corepolicy "cacp/internal/policy"

	"cacp/internal/errs"
)

const decisionPath = "/v1/data/clinic/policy"

type OPAClient struct {
	baseURL string
	client  *http.Client
}

// NewOPAClient builds a client with a bounded timeout and a retry budget
// of zero; the gateway above it fails closed on any error.
func NewOPAClient(baseURL string, timeout time.Duration) *OPAClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OPAClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type opaRequest struct {
	Input corepolicy.Input `json:"input"`
}

type opaResponse struct {
	Result *struct {
		Decision      string   `json:"decision"`
		Violations    []string `json:"violations"`
		PolicyVersion string   `json:"policy_version"`
	} `json:"result"`
}

func (c *OPAClient) Evaluate(ctx context.Context, input corepolicy.Input) (corepolicy.Decision, error) {
	body, err := json.Marshal(opaRequest{Input: input})
	if err != nil {
		return corepolicy.Decision{}, errs.Wrap(err, "marshal opa input")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+decisionPath, bytes.NewReader(body))
	if err != nil {
		return corepolicy.Decision{}, errs.Wrap(err, "build opa request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return corepolicy.Decision{}, errs.Wrap(err, "call opa")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return corepolicy.Decision{}, fmt.Errorf("opa returned status %d", resp.StatusCode)
	}

	var parsed opaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return corepolicy.Decision{}, errs.Wrap(err, "decode opa response")
	}
	if parsed.Result == nil || parsed.Result.Decision == "" {
		return corepolicy.Decision{}, fmt.Errorf("opa response missing decision")
	}

	return corepolicy.Decision{
		Result:        parsed.Result.Decision,
		Reasons:       parsed.Result.Violations,
		PolicyVersion: parsed.Result.PolicyVersion,
	}, nil
}

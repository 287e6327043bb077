// Package sdk is the Go client for the Aura underwriting API.
//
// It covers the full REST surface (case reads, the five workflow
// triggers, execution lookups and webhook management) plus receiver
// helpers for verifying signed webhook deliveries.
//
// Quick Start:
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL:        "https://underwriting.yourcompany.com",
//	    OrganizationID: "org-acme",
//	    APIKey:         os.Getenv("AURA_API_KEY"),
//	})
//
//	// Kick off a full processing run. The workflow is asynchronous:
//	// poll the factor list or subscribe a webhook for the outcome.
//	ack, err := client.ProcessUnderwriting(ctx, "uw-123")
//
//	factors, err := client.ListFactors(ctx, "uw-123")
//	for _, f := range factors.Factors {
//	    fmt.Println(f.Key, f.Value)
//	}
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the SDK configuration.
type Config struct {
	// BaseURL is the underwriting API endpoint (required)
	// Examples: "https://underwriting.yourcompany.com", "http://localhost:8080"
	BaseURL string

	// OrganizationID identifies your organization; sent on every request
	OrganizationID string

	// APIKey authenticates requests when the API sits behind a gateway
	// that requires one. Optional for direct deployments.
	APIKey string

	// Timeout for API requests (default 30s)
	Timeout time.Duration
}

// Client talks to the underwriting API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates an API client.
//
//	client := sdk.NewClient(sdk.Config{
//	    BaseURL:        "https://underwriting.example.com",
//	    OrganizationID: "org-acme",
//	})
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aura-sdk: api error %d: %s", e.StatusCode, e.Message)
}

// NotFound reports whether the error is a 404.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// GetUnderwriting fetches one case with its merchant, owners and
// documents.
func (c *Client) GetUnderwriting(ctx context.Context, underwritingID string) (*Underwriting, error) {
	var uw Underwriting
	if err := c.get(ctx, "/api/v1/underwritings/"+underwritingID, &uw); err != nil {
		return nil, err
	}
	return &uw, nil
}

// ListFactors fetches the consolidated factor set of a case.
func (c *Client) ListFactors(ctx context.Context, underwritingID string) (*FactorList, error) {
	var list FactorList
	if err := c.get(ctx, "/api/v1/underwritings/"+underwritingID+"/factors", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListExecutions fetches every processor run recorded for a case,
// including superseded and disabled ones.
func (c *Client) ListExecutions(ctx context.Context, underwritingID string) (*ExecutionList, error) {
	var list ExecutionList
	if err := c.get(ctx, "/api/v1/underwritings/"+underwritingID+"/executions", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListProcessors fetches the processors attached to a case.
func (c *Client) ListProcessors(ctx context.Context, underwritingID string) (*ProcessorList, error) {
	var list ProcessorList
	if err := c.get(ctx, "/api/v1/underwritings/"+underwritingID+"/processors", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListWorkflows fetches the stage-level workflow audit log of a case.
func (c *Client) ListWorkflows(ctx context.Context, underwritingID string) (*WorkflowList, error) {
	var list WorkflowList
	if err := c.get(ctx, "/api/v1/underwritings/"+underwritingID+"/workflows", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetArchivedSnapshot fetches the most recent archived factor snapshot
// of a case. Returns a 404 APIError when archiving is disabled or no
// snapshot exists yet.
func (c *Client) GetArchivedSnapshot(ctx context.Context, underwritingID string) (*ArchivedSnapshot, error) {
	var snap ArchivedSnapshot
	if err := c.get(ctx, "/api/v1/underwritings/"+underwritingID+"/archive", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetExecution fetches one execution by id.
func (c *Client) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	var exec Execution
	if err := c.get(ctx, "/api/v1/executions/"+executionID, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// ProcessUnderwriting triggers Workflow 1: filtration, execution and
// consolidation across every auto processor of the case.
func (c *Client) ProcessUnderwriting(ctx context.Context, underwritingID string) (*TriggerAccepted, error) {
	body := map[string]string{"underwriting_id": underwritingID}
	return c.trigger(ctx, "/api/v1/trigger/workflow1", body)
}

// RunProcessor triggers Workflow 2 for one processor. The request
// selects the scenario: ExecutionID reruns a single execution,
// ApplicationForm or DocumentList runs a one-off data subset, and an
// otherwise empty request reruns the processor from the current case
// snapshot.
func (c *Client) RunProcessor(ctx context.Context, req ManualExecutionRequest) (*TriggerAccepted, error) {
	return c.trigger(ctx, "/api/v1/trigger/workflow2", req)
}

// Reconsolidate triggers Workflow 3: recompute the factor set of one
// processor from its current executions without running anything.
func (c *Client) Reconsolidate(ctx context.Context, underwritingProcessorID string) (*TriggerAccepted, error) {
	body := map[string]string{"underwriting_processor_id": underwritingProcessorID}
	return c.trigger(ctx, "/api/v1/trigger/workflow3", body)
}

// ActivateExecution triggers Workflow 4: make one execution the sole
// authoritative run of its processor and reconsolidate.
func (c *Client) ActivateExecution(ctx context.Context, executionID string) (*TriggerAccepted, error) {
	body := map[string]string{"execution_id": executionID}
	return c.trigger(ctx, "/api/v1/trigger/workflow4", body)
}

// DisableExecution triggers Workflow 5: disable one execution, delete
// its factors and reconsolidate the remainder.
func (c *Client) DisableExecution(ctx context.Context, executionID string) (*TriggerAccepted, error) {
	body := map[string]string{"execution_id": executionID}
	return c.trigger(ctx, "/api/v1/trigger/workflow5", body)
}

// RegisterWebhook subscribes a URL to engine events. The returned
// subscription carries the assigned id. When Secret is set, deliveries
// are signed; verify them with VerifySignature or EventHandler.
func (c *Client) RegisterWebhook(ctx context.Context, sub WebhookSubscription) (*WebhookSubscription, error) {
	var created WebhookSubscription
	if err := c.do(ctx, http.MethodPost, "/api/v1/webhooks", sub, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListWebhooks fetches every registered webhook subscription.
func (c *Client) ListWebhooks(ctx context.Context) (*WebhookList, error) {
	var list WebhookList
	if err := c.get(ctx, "/api/v1/webhooks", &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// UnregisterWebhook removes a webhook subscription.
func (c *Client) UnregisterWebhook(ctx context.Context, subscriptionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/webhooks/"+subscriptionID, nil, nil)
}

// Health reports dependency status. A degraded API answers 503 with
// the same body, so the report is returned instead of an APIError;
// check Status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("aura-sdk: request failed: %w", err)
	}
	defer resp.Body.Close()

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("aura-sdk: failed to parse response: %w", err)
	}
	return &h, nil
}

func (c *Client) trigger(ctx context.Context, path string, body interface{}) (*TriggerAccepted, error) {
	var ack TriggerAccepted
	if err := c.do(ctx, http.MethodPost, path, body, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("aura-sdk: failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("aura-sdk: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("aura-sdk: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("aura-sdk: failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("aura-sdk: failed to create request: %w", err)
	}
	if c.config.OrganizationID != "" {
		httpReq.Header.Set("X-Organization-ID", c.config.OrganizationID)
	}
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	return httpReq, nil
}

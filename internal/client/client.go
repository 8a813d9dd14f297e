// Package client talks to the PromptOps HTTP API. It backs promptctl.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/experiment"
	"github.com/nikhilbhutani/promptops/internal/inference"
	"github.com/nikhilbhutani/promptops/internal/metrics"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/prompt"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}

func (c *Client) ListPrompts(ctx context.Context, limit, offset int) ([]models.PromptSummary, error) {
	var resp struct {
		Prompts []models.PromptSummary `json:"prompts"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}, "offset": {strconv.Itoa(offset)}}
	err := c.do(ctx, http.MethodGet, "/prompts?"+q.Encode(), nil, &resp)
	return resp.Prompts, err
}

func (c *Client) GetPrompt(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	var p models.Prompt
	if err := c.do(ctx, http.MethodGet, "/prompts/"+id.String(), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CreatePrompt(ctx context.Context, req prompt.CreateRequest) (*models.Prompt, error) {
	var p models.Prompt
	if err := c.do(ctx, http.MethodPost, "/prompts", req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) CreateVersion(ctx context.Context, promptID uuid.UUID, spec prompt.VersionSpec) (*models.PromptVersion, error) {
	var v models.PromptVersion
	if err := c.do(ctx, http.MethodPost, "/prompts/"+promptID.String()+"/versions", spec, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) DeletePrompt(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/prompts/"+id.String(), nil, nil)
}

func (c *Client) ListEnvironments(ctx context.Context) ([]models.Environment, error) {
	var resp struct {
		Environments []models.Environment `json:"environments"`
	}
	err := c.do(ctx, http.MethodGet, "/environments", nil, &resp)
	return resp.Environments, err
}

// EnvironmentByName looks an environment up by its slug.
func (c *Client) EnvironmentByName(ctx context.Context, name string) (*models.Environment, error) {
	envs, err := c.ListEnvironments(ctx)
	if err != nil {
		return nil, err
	}
	for i := range envs {
		if envs[i].Name == name {
			return &envs[i], nil
		}
	}
	return nil, fmt.Errorf("environment %q not found", name)
}

func (c *Client) Deploy(ctx context.Context, req deployment.DeployRequest) (*models.Deployment, error) {
	var d models.Deployment
	if err := c.do(ctx, http.MethodPost, "/deployments", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Rollback(ctx context.Context, id uuid.UUID, reason string) (*models.Deployment, error) {
	var d models.Deployment
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/deployments/"+id.String()+"/rollback", body, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) ActiveDeployment(ctx context.Context, environmentID, promptID uuid.UUID) (*models.Deployment, error) {
	var d models.Deployment
	path := "/deployments/active/" + environmentID.String() + "/" + promptID.String()
	if err := c.do(ctx, http.MethodGet, path, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) ListDeployments(ctx context.Context, promptID, environmentID *uuid.UUID) ([]models.Deployment, error) {
	q := url.Values{}
	if promptID != nil {
		q.Set("prompt_id", promptID.String())
	}
	if environmentID != nil {
		q.Set("environment_id", environmentID.String())
	}
	var resp struct {
		Deployments []models.Deployment `json:"deployments"`
	}
	err := c.do(ctx, http.MethodGet, "/deployments?"+q.Encode(), nil, &resp)
	return resp.Deployments, err
}

func (c *Client) ListExperiments(ctx context.Context, promptID *uuid.UUID) ([]models.Experiment, error) {
	path := "/experiments"
	if promptID != nil {
		path += "?prompt_id=" + promptID.String()
	}
	var resp struct {
		Experiments []models.Experiment `json:"experiments"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Experiments, err
}

func (c *Client) CreateExperiment(ctx context.Context, req experiment.CreateRequest) (*models.Experiment, error) {
	var e models.Experiment
	if err := c.do(ctx, http.MethodPost, "/experiments", req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// TransitionExperiment posts start, stop or complete.
func (c *Client) TransitionExperiment(ctx context.Context, id uuid.UUID, action string, winner *uuid.UUID) (*models.Experiment, error) {
	var body any
	if winner != nil {
		body = map[string]uuid.UUID{"winner_variant_id": *winner}
	}
	var e models.Experiment
	if err := c.do(ctx, http.MethodPost, "/experiments/"+id.String()+"/"+action, body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) ExperimentResults(ctx context.Context, id uuid.UUID) ([]experiment.VariantResult, error) {
	var resp struct {
		Variants []experiment.VariantResult `json:"variants"`
	}
	err := c.do(ctx, http.MethodGet, "/experiments/"+id.String()+"/results", nil, &resp)
	return resp.Variants, err
}

func (c *Client) Overview(ctx context.Context, days int) (*metrics.Overview, error) {
	var o metrics.Overview
	if err := c.do(ctx, http.MethodGet, "/metrics/overview?days="+strconv.Itoa(days), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *Client) ByModel(ctx context.Context, days int) ([]metrics.ModelStats, error) {
	var stats []metrics.ModelStats
	err := c.do(ctx, http.MethodGet, "/metrics/by-model?days="+strconv.Itoa(days), nil, &stats)
	return stats, err
}

func (c *Client) Run(ctx context.Context, req inference.RunRequest) (*inference.Result, error) {
	var res inference.Result
	if err := c.do(ctx, http.MethodPost, "/inference/run", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type streamEvent struct {
	Type   inference.EventType `json:"type"`
	Text   string              `json:"text"`
	Result *inference.Result   `json:"result"`
	Error  string              `json:"error"`
}

// RunStream calls onChunk for every chunk as it arrives and returns the
// final result. Cancelling ctx closes the connection, which cancels the run
// server side.
func (c *Client) RunStream(ctx context.Context, req inference.RunRequest, onChunk func(text string)) (*inference.Result, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/inference/run/stream", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		switch ev.Type {
		case inference.EventChunk:
			onChunk(ev.Text)
		case inference.EventDone:
			return ev.Result, nil
		case inference.EventError:
			return ev.Result, &APIError{Status: http.StatusBadGateway, Message: ev.Error}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return nil, fmt.Errorf("stream ended without a result")
}

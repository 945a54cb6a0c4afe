package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"verdyct/internal/domain"
	"verdyct/internal/session"
)

const defaultTimeout = 10 * time.Second

// Client talks to the Verdyct analysis service. HTTPClient is set by New;
// tune or replace it before the first request, the client is not touched
// after that and concurrent calls are fine.
type Client struct {
	BaseURL    string
	Gateway    session.Gateway
	HTTPClient *http.Client
}

// New creates a client with sane defaults.
func New(baseURL string, gw session.Gateway) *Client {
	return &Client{
		BaseURL:    baseURL,
		Gateway:    gw,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Error wraps non-2xx responses.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports a 404 on the requested resource.
func (e *Error) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsTransient reports a failure worth retrying on a later attempt. The
// status poller treats everything short of NotFound as transient.
func (e *Error) IsTransient() bool { return !e.IsNotFound() }

// SubmitRequest starts an analysis of a business idea.
type SubmitRequest struct {
	Idea string `json:"idea"`
	Name string `json:"name,omitempty"`
}

// SubmitResponse identifies the job the server created.
type SubmitResponse struct {
	ID     string           `json:"id"`
	Status domain.JobStatus `json:"status"`
}

func (r *SubmitResponse) validate() error {
	if r.ID == "" {
		return fmt.Errorf("submit response: missing id")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("submit response: unknown status %q", r.Status)
	}
	return nil
}

// TimelineResponse is the wire shape of timeline fetch and bootstrap.
type TimelineResponse struct {
	Exists   bool             `json:"exists"`
	Status   string           `json:"status,omitempty"`
	Steps    []domain.Step    `json:"steps,omitempty"`
	Messages []domain.Message `json:"messages,omitempty"`
}

// State converts a validated response into the domain union.
func (r *TimelineResponse) State() (domain.TimelineState, error) {
	if !r.Exists {
		return domain.TimelineState{}, fmt.Errorf("timeline response: exists=false has no state")
	}
	switch r.Status {
	case "onboarding":
		msgs := r.Messages
		if msgs == nil {
			msgs = []domain.Message{}
		}
		return domain.TimelineState{Phase: domain.PhaseOnboarding, Messages: msgs}, nil
	case "active", "completed":
		for i, s := range r.Steps {
			if s.ID == "" {
				return domain.TimelineState{}, fmt.Errorf("timeline response: step %d missing id", i)
			}
			switch s.Status {
			case domain.StepLocked, domain.StepActive, domain.StepCompleted:
			default:
				return domain.TimelineState{}, fmt.Errorf("timeline response: step %s has unknown status %q", s.ID, s.Status)
			}
		}
		return domain.TimelineState{Phase: domain.PhaseActive, Steps: r.Steps}, nil
	default:
		return domain.TimelineState{}, fmt.Errorf("timeline response: unknown status %q", r.Status)
	}
}

// MessageResponse is the wizard's reply to a chat turn.
type MessageResponse struct {
	Reply    string           `json:"reply"`
	Action   string           `json:"action,omitempty"`
	Status   string           `json:"status,omitempty"`
	Messages []domain.Message `json:"messages,omitempty"`
}

// ActionFinalize is set on the wizard turn that ends onboarding.
const ActionFinalize = "finalize_onboarding"

// Submit starts an analysis and returns the new job id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var resp SubmitResponse
	if strings.TrimSpace(req.Idea) == "" {
		return resp, fmt.Errorf("idea is required")
	}
	if err := c.do(ctx, http.MethodPost, "analyses", req, &resp); err != nil {
		return resp, err
	}
	if err := resp.validate(); err != nil {
		return resp, err
	}
	return resp, nil
}

// GetProject fetches the current snapshot of a job.
func (c *Client) GetProject(ctx context.Context, id string) (domain.AnalysisJob, error) {
	var job domain.AnalysisJob
	if err := c.do(ctx, http.MethodGet, c.projectPath(id, ""), nil, &job); err != nil {
		return job, err
	}
	if job.ID == "" {
		job.ID = id
	}
	if !job.Status.Valid() {
		return job, fmt.Errorf("project %s: unknown status %q", id, job.Status)
	}
	return job, nil
}

// GetTimeline fetches the timeline resource. Exists=false is a valid answer.
func (c *Client) GetTimeline(ctx context.Context, projectID string) (TimelineResponse, error) {
	var resp TimelineResponse
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "timeline"), nil, &resp)
	return resp, err
}

// StartTimeline bootstraps a timeline; the server answers with the
// onboarding state.
func (c *Client) StartTimeline(ctx context.Context, projectID string) (TimelineResponse, error) {
	var resp TimelineResponse
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "timeline"), struct{}{}, &resp)
	return resp, err
}

// SendMessage appends a chat turn. stepID is empty during onboarding and set
// for per-step help conversations.
func (c *Client) SendMessage(ctx context.Context, projectID, message, stepID string) (MessageResponse, error) {
	body := map[string]any{"message": message}
	if stepID != "" {
		body["step_id"] = stepID
	}
	var resp MessageResponse
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "timeline/message"), body, &resp)
	return resp, err
}

// CompleteStep marks a step done server-side.
func (c *Client) CompleteStep(ctx context.Context, projectID, stepID string) error {
	endpoint := c.projectPath(projectID, fmt.Sprintf("timeline/steps/%s/complete", url.PathEscape(stepID)))
	return c.do(ctx, http.MethodPost, endpoint, struct{}{}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	token, err := c.Gateway.Token(ctx)
	if err != nil {
		return err
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &Error{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, endpoint, err)
		}
	}
	return nil
}

func (c *Client) projectPath(id, p string) string {
	base := fmt.Sprintf("projects/%s", url.PathEscape(id))
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

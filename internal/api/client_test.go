package api_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"verdyct/internal/api"
	"verdyct/internal/domain"
	"verdyct/internal/session"
	"verdyct/internal/stub"
)

const testSecret = "test-secret"

func newTestClient(t *testing.T) (*api.Client, *stub.Service) {
	t.Helper()
	svc := stub.NewService()
	handler, err := stub.New(stub.Config{Service: svc, JWTSecret: testSecret})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	token, err := stub.MintToken(testSecret, "tester", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return api.New(srv.URL, session.Static(token)), svc
}

func TestSubmitAndGetProject(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	resp, err := client.Submit(ctx, api.SubmitRequest{Idea: "neighborhood tool library", Name: "toolshare"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.ID == "" || resp.Status != domain.JobQueued {
		t.Fatalf("submit response: %+v", resp)
	}

	job, err := client.GetProject(ctx, resp.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if job.ID != resp.ID {
		t.Fatalf("job id %q, want %q", job.ID, resp.ID)
	}
}

func TestSubmitRequiresIdea(t *testing.T) {
	client, _ := newTestClient(t)
	if _, err := client.Submit(context.Background(), api.SubmitRequest{Idea: "   "}); err == nil {
		t.Fatalf("blank idea accepted")
	}
}

func TestGetProjectStatusScript(t *testing.T) {
	client, svc := newTestClient(t)
	svc.SeedProject("p1", domain.JobQueued, domain.JobAnalyzing, domain.JobApproved)
	ctx := context.Background()
	want := []domain.JobStatus{domain.JobQueued, domain.JobAnalyzing, domain.JobApproved, domain.JobApproved}
	for i, w := range want {
		job, err := client.GetProject(ctx, "p1")
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if job.Status != w {
			t.Fatalf("read %d: status %s, want %s", i, job.Status, w)
		}
	}
}

func TestGetProjectNotFound(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.GetProject(context.Background(), "missing")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error is %T, want *api.Error", err)
	}
	if !apiErr.IsNotFound() || apiErr.IsTransient() {
		t.Fatalf("404 misclassified: %+v", apiErr)
	}
}

func TestUnauthorizedWithBadToken(t *testing.T) {
	svc := stub.NewService()
	handler, err := stub.New(stub.Config{Service: svc, JWTSecret: testSecret})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	svc.SeedProject("p1", domain.JobAnalyzing)

	client := api.New(srv.URL, session.Static("not-a-real-token"))
	_, err = client.GetProject(context.Background(), "p1")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestTimelineLifecycle(t *testing.T) {
	client, svc := newTestClient(t)
	svc.SeedProject("p1", domain.JobApproved)
	ctx := context.Background()

	resp, err := client.GetTimeline(ctx, "p1")
	if err != nil {
		t.Fatalf("get timeline: %v", err)
	}
	if resp.Exists {
		t.Fatalf("timeline exists before bootstrap")
	}

	resp, err = client.StartTimeline(ctx, "p1")
	if err != nil {
		t.Fatalf("start timeline: %v", err)
	}
	state, err := resp.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Phase != domain.PhaseOnboarding || len(state.Messages) == 0 {
		t.Fatalf("bootstrap state: %+v", state)
	}

	// the wizard finalizes after its scripted number of turns
	var last api.MessageResponse
	for i := 0; i < 3; i++ {
		last, err = client.SendMessage(ctx, "p1", "answer", "")
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	if last.Action != api.ActionFinalize {
		t.Fatalf("wizard never finalized: %+v", last)
	}

	resp, err = client.GetTimeline(ctx, "p1")
	if err != nil {
		t.Fatalf("get timeline after finalize: %v", err)
	}
	state, err = resp.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Phase != domain.PhaseActive || len(state.Steps) == 0 {
		t.Fatalf("expected active roadmap: %+v", state)
	}

	active := state.Steps[0]
	if active.Status != domain.StepActive {
		t.Fatalf("first step is %s", active.Status)
	}
	if err := client.CompleteStep(ctx, "p1", active.ID); err != nil {
		t.Fatalf("complete step: %v", err)
	}
	// completing it again conflicts
	if err := client.CompleteStep(ctx, "p1", active.ID); err == nil {
		t.Fatalf("double completion accepted")
	}
}

func TestSendStepMessage(t *testing.T) {
	client, svc := newTestClient(t)
	svc.SeedProject("p1", domain.JobApproved)
	ctx := context.Background()
	if _, err := client.StartTimeline(ctx, "p1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := client.SendMessage(ctx, "p1", "answer", ""); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	resp, err := client.GetTimeline(ctx, "p1")
	if err != nil {
		t.Fatalf("get timeline: %v", err)
	}
	stepID := resp.Steps[0].ID
	msg, err := client.SendMessage(ctx, "p1", "how do I start?", stepID)
	if err != nil {
		t.Fatalf("step message: %v", err)
	}
	if msg.Reply == "" {
		t.Fatalf("empty step reply")
	}
}

func TestTimelineStateRejectsUnknownStatus(t *testing.T) {
	resp := api.TimelineResponse{Exists: true, Status: "archived"}
	if _, err := resp.State(); err == nil {
		t.Fatalf("unknown timeline status accepted")
	}
	resp = api.TimelineResponse{
		Exists: true,
		Status: "active",
		Steps:  []domain.Step{{ID: "a", OrderIndex: 1, Status: domain.StepStatus("paused")}},
	}
	if _, err := resp.State(); err == nil {
		t.Fatalf("unknown step status accepted")
	}
}

func TestNewInitializesHTTPClient(t *testing.T) {
	client := api.New("http://127.0.0.1:1", session.Static("t"))
	if client.HTTPClient == nil {
		t.Fatal("New left HTTPClient nil")
	}
	if client.HTTPClient.Timeout == 0 {
		t.Fatal("New left HTTPClient without a timeout")
	}
}

func TestConcurrentRequestsShareClient(t *testing.T) {
	client, svc := newTestClient(t)
	svc.SeedProject("p1", domain.JobAnalyzing)
	ctx := context.Background()

	before := client.HTTPClient
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.GetProject(ctx, "p1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent get: %v", err)
	}
	if client.HTTPClient != before {
		t.Fatal("request path replaced HTTPClient")
	}
}

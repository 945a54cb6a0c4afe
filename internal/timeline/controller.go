package timeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"verdyct/internal/api"
	"verdyct/internal/domain"
	"verdyct/internal/events"
)

// Service is the slice of the API client the controller needs.
type Service interface {
	GetTimeline(ctx context.Context, projectID string) (api.TimelineResponse, error)
	StartTimeline(ctx context.Context, projectID string) (api.TimelineResponse, error)
	SendMessage(ctx context.Context, projectID, message, stepID string) (api.MessageResponse, error)
	CompleteStep(ctx context.Context, projectID, stepID string) error
}

// LoadError is a retryable load/bootstrap failure. The previous timeline
// state stays untouched behind it.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("timeline load failed: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// ViewMode discriminates what the timeline UI should render.
type ViewMode int

const (
	ViewOnboarding ViewMode = iota
	ViewStepList
	ViewStepDetail
)

// View is the single derived answer to "what should the timeline show now".
type View struct {
	Mode     ViewMode
	Messages []domain.Message // ViewOnboarding
	Steps    []domain.Step    // ViewStepList
	Step     *domain.Step     // ViewStepDetail
}

// Controller owns the timeline state for one project: it loads or bootstraps
// the server resource, tracks the transient step selection, and derives the
// view. All state is replaced wholesale by loads; the network layer never
// patches it in place.
type Controller struct {
	ProjectID string
	Service   Service
	Journal   *events.Journal
	Log       *zap.SugaredLogger

	mu        sync.Mutex
	state     *domain.TimelineState
	selection *domain.Step
	loadGen   uint64
}

// Load fetches the timeline, bootstrapping it when the server reports it
// does not exist yet. On success the state is replaced and the selection
// cleared; on failure the previous state is kept and a *LoadError returned.
// A response that arrives after a newer Load started is discarded.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	c.loadGen++
	gen := c.loadGen
	c.mu.Unlock()

	resp, err := c.Service.GetTimeline(ctx, c.ProjectID)
	if err != nil {
		return &LoadError{Err: err}
	}
	if !resp.Exists {
		resp, err = c.Service.StartTimeline(ctx, c.ProjectID)
		if err != nil {
			return &LoadError{Err: fmt.Errorf("bootstrap: %w", err)}
		}
	}
	state, err := resp.State()
	if err != nil {
		return &LoadError{Err: err}
	}
	if state.Phase == domain.PhaseActive {
		if err := ValidateSteps(state.Steps); err != nil {
			return &LoadError{Err: fmt.Errorf("server sent inconsistent steps: %w", err)}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.loadGen {
		c.log().Debugw("stale timeline load discarded", "project", c.ProjectID)
		return nil
	}
	c.state = &state
	c.selection = nil
	return nil
}

// State returns the current snapshot, or nil before the first load.
func (c *Controller) State() *domain.TimelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	st := *c.state
	return &st
}

// View derives the rendering mode. Precedence: onboarding wins over
// everything, then a step selection, then the list.
func (c *Controller) View() (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return View{}, fmt.Errorf("timeline not loaded")
	}
	if c.state.Phase == domain.PhaseOnboarding {
		return View{Mode: ViewOnboarding, Messages: c.state.Messages}, nil
	}
	if c.selection != nil {
		step := *c.selection
		return View{Mode: ViewStepDetail, Step: &step}, nil
	}
	return View{Mode: ViewStepList, Steps: c.state.Steps}, nil
}

// SelectStep sets the transient drill-down pointer. Locked steps are not
// selectable.
func (c *Controller) SelectStep(stepID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil || c.state.Phase != domain.PhaseActive {
		return fmt.Errorf("no active roadmap to select from")
	}
	for i := range c.state.Steps {
		s := c.state.Steps[i]
		if s.ID != stepID {
			continue
		}
		if s.Status == domain.StepLocked {
			return fmt.Errorf("step %s is locked", stepID)
		}
		c.selection = &s
		return nil
	}
	return fmt.Errorf("step %s not found", stepID)
}

// Back clears the selection without re-fetching.
func (c *Controller) Back() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = nil
}

// OnOnboardingComplete reloads once the server reports the conversational
// phase finished, transitioning Onboarding -> Active.
func (c *Controller) OnOnboardingComplete(ctx context.Context) error {
	return c.Load(ctx)
}

// SendMessage appends a wizard chat turn. The user turn is added
// optimistically and rolled back on failure, so the caller keeps the typed
// input for the inline retry. A finalize action from the server triggers the
// onboarding-complete reload.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.state == nil || c.state.Phase != domain.PhaseOnboarding {
		c.mu.Unlock()
		return fmt.Errorf("no onboarding conversation in progress")
	}
	c.state.Messages = append(c.state.Messages, domain.Message{Role: "user", Content: text})
	c.mu.Unlock()

	resp, err := c.Service.SendMessage(ctx, c.ProjectID, text, "")
	if err != nil {
		c.mu.Lock()
		if c.state != nil && c.state.Phase == domain.PhaseOnboarding && len(c.state.Messages) > 0 {
			c.state.Messages = c.state.Messages[:len(c.state.Messages)-1]
		}
		c.mu.Unlock()
		return fmt.Errorf("send message: %w", err)
	}

	c.mu.Lock()
	if c.state != nil && c.state.Phase == domain.PhaseOnboarding {
		if resp.Messages != nil {
			c.state.Messages = resp.Messages
		} else {
			c.state.Messages = append(c.state.Messages, domain.Message{Role: "assistant", Content: resp.Reply})
		}
	}
	c.mu.Unlock()

	if resp.Action == api.ActionFinalize {
		return c.OnOnboardingComplete(ctx)
	}
	return nil
}

// AskAboutStep sends a chat turn scoped to the selected step and returns the
// assistant's reply. It does not touch timeline state.
func (c *Controller) AskAboutStep(ctx context.Context, stepID, text string) (string, error) {
	resp, err := c.Service.SendMessage(ctx, c.ProjectID, text, stepID)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.Reply, nil
}

// CompleteStep marks the step done server-side, applies the optimistic local
// advance, and reloads for the authoritative state. A failed reload keeps
// the optimistic state and returns the retryable error.
func (c *Controller) CompleteStep(ctx context.Context, stepID string) error {
	c.mu.Lock()
	if c.state == nil || c.state.Phase != domain.PhaseActive {
		c.mu.Unlock()
		return fmt.Errorf("no active roadmap")
	}
	var target *domain.Step
	for i := range c.state.Steps {
		if c.state.Steps[i].ID == stepID {
			target = &c.state.Steps[i]
			break
		}
	}
	if target == nil {
		c.mu.Unlock()
		return fmt.Errorf("step %s not found", stepID)
	}
	if target.Status != domain.StepActive {
		status := target.Status
		c.mu.Unlock()
		return fmt.Errorf("step %s is %s, only the active step can be completed", stepID, status)
	}
	c.mu.Unlock()

	if err := c.Service.CompleteStep(ctx, c.ProjectID, stepID); err != nil {
		return fmt.Errorf("complete step: %w", err)
	}

	c.mu.Lock()
	if c.state != nil && c.state.Phase == domain.PhaseActive {
		c.state.Steps = AdvanceSteps(c.state.Steps, stepID)
	}
	c.selection = nil
	c.mu.Unlock()

	if c.Journal != nil {
		if err := c.Journal.Append(ctx, events.TypeStepCompleted, c.ProjectID, events.Payload{"step_id": stepID}); err != nil {
			c.log().Warnw("journal append", "error", err)
		}
	}
	return c.Load(ctx)
}

func (c *Controller) log() *zap.SugaredLogger {
	if c.Log != nil {
		return c.Log
	}
	return zap.S().Named("timeline")
}

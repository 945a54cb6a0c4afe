// Package stub is a faithful local implementation of the analysis service's
// HTTP contract. `verdyct stub` serves it for development against no backend,
// and the client integration tests run it in-process.
package stub

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"verdyct/internal/domain"
)

const defaultWizardTurns = 3

// Service holds the in-memory world the stub serves.
type Service struct {
	// WizardTurns is how many user turns the onboarding wizard takes
	// before finalizing. Zero means the default.
	WizardTurns int
	Now         func() time.Time

	mu       sync.Mutex
	projects map[string]*project
}

type project struct {
	job       domain.AnalysisJob
	script    []domain.JobStatus
	scriptPos int
	timeline  *timelineState
}

type timelineState struct {
	status    string
	messages  []domain.Message
	steps     []domain.Step
	userTurns int
}

func NewService() *Service {
	return &Service{projects: make(map[string]*project)}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) wizardTurns() int {
	if s.WizardTurns > 0 {
		return s.WizardTurns
	}
	return defaultWizardTurns
}

// Submit creates a job whose status advances through the default script on
// successive reads: queued, analyzing, then approved.
func (s *Service) Submit(idea, name string) domain.AnalysisJob {
	if name == "" {
		name = "Untitled idea"
	}
	job := domain.AnalysisJob{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    domain.JobQueued,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[job.ID] = &project{
		job:    job,
		script: []domain.JobStatus{domain.JobQueued, domain.JobAnalyzing, domain.JobApproved},
	}
	return job
}

// SeedProject installs a job with a fixed status script; each GetProject
// call serves the next status, and the last one repeats. Tests use it to
// play out arbitrary transition sequences.
func (s *Service) SeedProject(id string, statuses ...domain.JobStatus) {
	if len(statuses) == 0 {
		statuses = []domain.JobStatus{domain.JobAnalyzing}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[id] = &project{
		job: domain.AnalysisJob{
			ID:        id,
			Status:    statuses[0],
			CreatedAt: s.now().UTC().Format(time.RFC3339),
		},
		script: statuses,
	}
}

// RemoveProject deletes a job, so later reads 404. Tests use it for the
// vanished-job path.
func (s *Service) RemoveProject(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
}

// GetProject returns the job snapshot, advancing its status script.
func (s *Service) GetProject(id string) (domain.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return domain.AnalysisJob{}, errNotFound
	}
	p.job.Status = p.script[p.scriptPos]
	if p.scriptPos < len(p.script)-1 {
		p.scriptPos++
	}
	return p.job, nil
}

// GetTimeline returns the timeline resource; exists=false when it was never
// bootstrapped.
func (s *Service) GetTimeline(projectID string) (exists bool, status string, steps []domain.Step, messages []domain.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return false, "", nil, nil, errNotFound
	}
	if p.timeline == nil {
		return false, "", nil, nil, nil
	}
	t := p.timeline
	return true, t.status, cloneSteps(t.steps), cloneMessages(t.messages), nil
}

// StartTimeline bootstraps the timeline into the onboarding phase.
func (s *Service) StartTimeline(projectID string) (status string, messages []domain.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return "", nil, errNotFound
	}
	if p.timeline == nil {
		p.timeline = &timelineState{
			status: "onboarding",
			messages: []domain.Message{{
				Role:    "assistant",
				Content: "Let's define your roadmap. What is the final objective for this project?",
			}},
		}
	}
	return p.timeline.status, cloneMessages(p.timeline.messages), nil
}

// SendMessage appends a chat turn. During onboarding the wizard finalizes
// after a fixed number of user turns and generates the roadmap. With a step
// id the turn is per-step help and leaves the timeline untouched.
func (s *Service) SendMessage(projectID, message, stepID string) (reply, action, status string, messages []domain.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.timeline == nil {
		return "", "", "", nil, errNotFound
	}
	t := p.timeline

	if stepID != "" {
		for _, st := range t.steps {
			if st.ID == stepID {
				return fmt.Sprintf("For %q: break it down and ship the smallest useful piece first.", st.Title), "", t.status, nil, nil
			}
		}
		return "", "", "", nil, errNotFound
	}

	if t.status != "onboarding" {
		return "", "", "", nil, errConflict
	}
	t.messages = append(t.messages, domain.Message{Role: "user", Content: message})
	t.userTurns++
	if t.userTurns >= s.wizardTurns() {
		reply = "Great, I have enough context. Building your roadmap now."
		action = "finalize_onboarding"
		t.messages = append(t.messages, domain.Message{Role: "assistant", Content: reply})
		t.steps = generateSteps()
		t.status = "active"
		return reply, action, t.status, cloneMessages(t.messages), nil
	}
	reply = fmt.Sprintf("Got it. Question %d of %d: tell me more.", t.userTurns+1, s.wizardTurns())
	t.messages = append(t.messages, domain.Message{Role: "assistant", Content: reply})
	return reply, "", t.status, cloneMessages(t.messages), nil
}

// CompleteStep marks an active step done and unlocks the next one.
func (s *Service) CompleteStep(projectID, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.timeline == nil {
		return errNotFound
	}
	t := p.timeline
	for i := range t.steps {
		if t.steps[i].ID != stepID {
			continue
		}
		if t.steps[i].Status != domain.StepActive {
			return errConflict
		}
		t.steps[i].Status = domain.StepCompleted
		if i+1 < len(t.steps) {
			t.steps[i+1].Status = domain.StepActive
		}
		return nil
	}
	return errNotFound
}

func generateSteps() []domain.Step {
	titles := []struct{ title, desc string }{
		{"Validate the problem", "Interview ten potential users and write down the exact pain."},
		{"Define the smallest offer", "One page describing what you sell and to whom."},
		{"Build the landing page", "Ship a page with a single call to action."},
		{"Get the first ten signups", "Drive traffic by hand; no ads yet."},
	}
	steps := make([]domain.Step, len(titles))
	for i, t := range titles {
		status := domain.StepLocked
		if i == 0 {
			status = domain.StepActive
		}
		steps[i] = domain.Step{
			ID:          uuid.NewString(),
			OrderIndex:  i + 1,
			Title:       t.title,
			Description: t.desc,
			Content:     t.desc,
			Status:      status,
		}
	}
	return steps
}

func cloneSteps(in []domain.Step) []domain.Step {
	out := make([]domain.Step, len(in))
	copy(out, in)
	return out
}

func cloneMessages(in []domain.Message) []domain.Message {
	out := make([]domain.Message, len(in))
	copy(out, in)
	return out
}

package domain

// JobStatus is the server-side lifecycle of an analysis job.
type JobStatus string

const (
	JobDraft     JobStatus = "draft"
	JobQueued    JobStatus = "queued"
	JobAnalyzing JobStatus = "analyzing"
	JobApproved  JobStatus = "approved"
	JobRejected  JobStatus = "rejected"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	return s == JobApproved || s == JobRejected
}

// Valid reports whether the status is one the server contract defines.
func (s JobStatus) Valid() bool {
	switch s {
	case JobDraft, JobQueued, JobAnalyzing, JobApproved, JobRejected:
		return true
	}
	return false
}

// AnalysisJob is a read-only snapshot of a server-owned analysis job.
type AnalysisJob struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Status    JobStatus `json:"status" enum:"draft,queued,analyzing,approved,rejected"`
	Score     float64   `json:"pos_score,omitempty"`
	CreatedAt string    `json:"created_at,omitempty" format:"date-time"`
}

// CompletionEvent signals that a watched job reached a terminal status.
// It is ephemeral: produced at most once per job id and never persisted.
type CompletionEvent struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status" enum:"approved,rejected"`
}

// StepStatus is the lifecycle of one roadmap step.
type StepStatus string

const (
	StepLocked    StepStatus = "locked"
	StepActive    StepStatus = "active"
	StepCompleted StepStatus = "completed"
)

// Step is one unit of the execution roadmap.
type Step struct {
	ID          string     `json:"id"`
	OrderIndex  int        `json:"order_index"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Content     string     `json:"content,omitempty"`
	Status      StepStatus `json:"status" enum:"locked,active,completed"`
}

// Message is one onboarding chat turn.
type Message struct {
	Role    string `json:"role" enum:"user,assistant"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// TimelinePhase discriminates the timeline union.
type TimelinePhase string

const (
	PhaseOnboarding TimelinePhase = "onboarding"
	PhaseActive     TimelinePhase = "active"
)

// TimelineState is the authoritative per-project timeline snapshot. It is
// replaced wholesale on every successful load, never patched in place.
type TimelineState struct {
	Phase    TimelinePhase `json:"phase"`
	Messages []Message     `json:"messages,omitempty"`
	Steps    []Step        `json:"steps,omitempty"`
}

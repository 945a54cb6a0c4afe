package timeline

import (
	"fmt"
	"sort"

	"verdyct/internal/domain"
)

// ValidateSteps asserts the sequencing contract over an active timeline:
// steps are totally ordered by OrderIndex, exactly one step is active unless
// every step is completed, everything before the active step is completed
// and everything after it is locked. A violation is a server-contract or
// programming error and fails loudly rather than being repaired.
func ValidateSteps(steps []domain.Step) error {
	if len(steps) == 0 {
		return nil
	}
	seen := make(map[int]string, len(steps))
	for _, s := range steps {
		if prev, dup := seen[s.OrderIndex]; dup {
			return fmt.Errorf("steps %s and %s share order index %d", prev, s.ID, s.OrderIndex)
		}
		seen[s.OrderIndex] = s.ID
		switch s.Status {
		case domain.StepLocked, domain.StepActive, domain.StepCompleted:
		default:
			return fmt.Errorf("step %s has unknown status %q", s.ID, s.Status)
		}
	}
	ordered := sortedByOrder(steps)

	activeAt := -1
	for i, s := range ordered {
		if s.Status == domain.StepActive {
			if activeAt >= 0 {
				return fmt.Errorf("steps %s and %s are both active", ordered[activeAt].ID, s.ID)
			}
			activeAt = i
		}
	}
	if activeAt < 0 {
		// Zero active is only legal when the roadmap is finished or was
		// never started (all locked).
		completed, locked := 0, 0
		for _, s := range ordered {
			switch s.Status {
			case domain.StepCompleted:
				completed++
			case domain.StepLocked:
				locked++
			}
		}
		if completed != len(ordered) && locked != len(ordered) {
			return fmt.Errorf("no active step in a partially completed sequence")
		}
		return nil
	}
	for i, s := range ordered {
		switch {
		case i < activeAt && s.Status != domain.StepCompleted:
			return fmt.Errorf("step %s precedes the active step but is %s", s.ID, s.Status)
		case i > activeAt && s.Status != domain.StepLocked:
			return fmt.Errorf("step %s follows the active step but is %s", s.ID, s.Status)
		}
	}
	return nil
}

// AdvanceSteps returns a new collection where the step with completedID is
// completed and the next step in order, if any, is active. It is the
// optimistic local transition applied right after a step-completing action,
// ahead of the authoritative reload. The input is not mutated.
func AdvanceSteps(steps []domain.Step, completedID string) []domain.Step {
	ordered := sortedByOrder(steps)
	completedAt := -1
	for i, s := range ordered {
		if s.ID == completedID {
			completedAt = i
			break
		}
	}
	if completedAt < 0 {
		return ordered
	}
	ordered[completedAt].Status = domain.StepCompleted
	if next := completedAt + 1; next < len(ordered) {
		ordered[next].Status = domain.StepActive
	}
	return ordered
}

// ActiveStep returns the currently active step, or nil when the sequence is
// finished or empty.
func ActiveStep(steps []domain.Step) *domain.Step {
	for i := range steps {
		if steps[i].Status == domain.StepActive {
			return &steps[i]
		}
	}
	return nil
}

func sortedByOrder(steps []domain.Step) []domain.Step {
	out := make([]domain.Step, len(steps))
	copy(out, steps)
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

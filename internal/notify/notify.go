package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"verdyct/internal/domain"
	"verdyct/internal/events"
)

// Navigator takes the user to a job's report. The CLI prints the location;
// other surfaces may spawn a browser.
type Navigator interface {
	OpenReport(jobID string) error
}

// NavigatorFunc adapts a function to a Navigator.
type NavigatorFunc func(jobID string) error

func (f NavigatorFunc) OpenReport(jobID string) error { return f(jobID) }

// Sound plays the completion cue. Failures never propagate; an environment
// without audio simply gets a silent notification.
type Sound interface {
	Play() error
}

// Center presents at most one pending completion event until the user
// acknowledges it. Only one watched job exists at a time, so at most one
// event should ever be pending; if another arrives anyway the newer one wins.
type Center struct {
	Navigator Navigator
	Sound     Sound
	Journal   *events.Journal
	Log       *zap.SugaredLogger

	mu      sync.Mutex
	current *domain.CompletionEvent
	shown   map[string]bool
}

// Resolved lets the Center act as the poller's sink.
func (c *Center) Resolved(ev domain.CompletionEvent) {
	c.Show(context.Background(), ev)
}

// Show makes ev the pending notification, replacing any current one. A
// resolution that was already acknowledged (in this process or a previous
// one, via the journal) is not re-shown.
func (c *Center) Show(ctx context.Context, ev domain.CompletionEvent) {
	if c.acknowledged(ctx, ev.JobID) {
		c.log().Debugw("already acknowledged; not re-showing", "job", ev.JobID)
		return
	}
	c.mu.Lock()
	c.current = &ev
	c.mu.Unlock()

	if c.Sound != nil {
		if err := c.Sound.Play(); err != nil {
			c.log().Debugw("notification sound", "error", err)
		}
	}
}

// Current returns the pending event, or nil.
func (c *Center) Current() *domain.CompletionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	ev := *c.current
	return &ev
}

// Activate navigates to the job's report and hides the notification.
func (c *Center) Activate(ctx context.Context, ev domain.CompletionEvent) error {
	c.hide(ev)
	c.journal(ctx, events.TypeNotificationActivated, ev)
	if c.Navigator != nil {
		return c.Navigator.OpenReport(ev.JobID)
	}
	return nil
}

// Dismiss hides the notification without navigation; it is not re-shown.
func (c *Center) Dismiss(ctx context.Context, ev domain.CompletionEvent) {
	c.hide(ev)
	c.journal(ctx, events.TypeNotificationDismissed, ev)
}

func (c *Center) hide(ev domain.CompletionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shown == nil {
		c.shown = make(map[string]bool)
	}
	c.shown[ev.JobID] = true
	if c.current != nil && c.current.JobID == ev.JobID {
		c.current = nil
	}
}

func (c *Center) acknowledged(ctx context.Context, jobID string) bool {
	c.mu.Lock()
	seen := c.shown[jobID]
	c.mu.Unlock()
	if seen {
		return true
	}
	if c.Journal == nil {
		return false
	}
	for _, t := range []string{events.TypeNotificationActivated, events.TypeNotificationDismissed} {
		ok, err := c.Journal.Seen(ctx, t, jobID)
		if err != nil {
			c.log().Warnw("journal lookup", "error", err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

func (c *Center) journal(ctx context.Context, evtType string, ev domain.CompletionEvent) {
	if c.Journal == nil {
		return
	}
	if err := c.Journal.Append(ctx, evtType, ev.JobID, events.Payload{"status": string(ev.Status)}); err != nil {
		c.log().Warnw("journal append", "type", evtType, "error", err)
	}
}

func (c *Center) log() *zap.SugaredLogger {
	if c.Log != nil {
		return c.Log
	}
	return zap.S().Named("notify")
}

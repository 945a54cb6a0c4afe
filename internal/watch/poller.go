package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	jitterbug "github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"verdyct/internal/api"
	"verdyct/internal/domain"
	"verdyct/internal/events"
	"verdyct/internal/session"
)

// DefaultInterval is a policy constant, not a correctness parameter: the
// poller is safe at any period.
const DefaultInterval = 5 * time.Second

// ProjectFetcher is the slice of the API client the poller needs.
type ProjectFetcher interface {
	GetProject(ctx context.Context, id string) (domain.AnalysisJob, error)
}

// Sink receives completion events. Delivery happens after the pointer has
// been cleared, so a sink that panics or blocks cannot cause a double emit.
type Sink interface {
	Resolved(ev domain.CompletionEvent)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ev domain.CompletionEvent)

func (f SinkFunc) Resolved(ev domain.CompletionEvent) { f(ev) }

// Poller watches the active-job pointer and detects terminal resolution of
// the one watched job without missing it or reporting it twice. It is a
// best-effort background watcher: every failure is logged and swallowed,
// never surfaced.
type Poller struct {
	Store    Store
	Gateway  session.Gateway
	Client   ProjectFetcher
	Sink     Sink
	Journal  *events.Journal
	Interval time.Duration
	Log      *zap.SugaredLogger

	mu       sync.Mutex
	running  bool
	stopCh   chan chan struct{}
	loopDone chan struct{}
	inFlight atomic.Bool
}

// Start begins the recurring check. Calling Start while running is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	p.running = true
	p.stopCh = make(chan chan struct{})
	p.loopDone = make(chan struct{})
	stopCh, loopDone := p.stopCh, p.loopDone

	go func() {
		defer close(loopDone)
		t := jitterbug.New(interval, &jitterbug.Norm{Stdev: 100 * time.Millisecond})
		defer t.Stop()
		for {
			select {
			case done := <-stopCh:
				close(done)
				return
			case <-ctx.Done():
				return
			case <-t.C:
				p.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the recurring task and waits for the loop to exit, so no tick
// is in flight once it returns. Safe to call from teardown even if Start was
// never called.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	stopCh, loopDone := p.stopCh, p.loopDone
	p.running = false
	p.stopCh = nil
	p.loopDone = nil
	p.mu.Unlock()

	done := make(chan struct{})
	select {
	case stopCh <- done:
		<-done
	case <-loopDone:
		// loop already exited via context cancellation
	}
}

// Tick performs one check. Exported so the CLI's one-shot mode and tests can
// drive the poller without the timer. If a previous tick's network call is
// still outstanding the whole tick is skipped; there is never more than one
// in-flight request for the watched job.
func (p *Poller) Tick(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer p.inFlight.Store(false)
	p.tick(ctx)
}

func (p *Poller) tick(ctx context.Context) {
	log := p.log()

	jobID, err := p.Store.Get(ctx)
	if err != nil {
		log.Errorw("read active-job pointer", "error", err)
		return
	}
	if jobID == "" {
		return
	}

	if _, err := p.Gateway.Token(ctx); err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			log.Warnw("session gateway", "error", err)
		}
		// Not authenticated on this workspace yet; the pointer stays put.
		return
	}

	job, err := p.Client.GetProject(ctx, jobID)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			// The job vanished server-side; watching it forever is useless.
			// Clear without emitting: there is no resolution to report.
			if clearErr := p.Store.Clear(ctx); clearErr != nil {
				log.Errorw("clear pointer after 404", "job", jobID, "error", clearErr)
				return
			}
			log.Warnw("watched job no longer exists; pointer cleared", "job", jobID)
			p.journal(ctx, events.TypeAnalysisDiscarded, jobID, events.Payload{"reason": "not_found"})
			return
		}
		// Transient: uniform fixed-interval retry, no backoff.
		log.Debugw("poll attempt failed", "job", jobID, "error", err)
		return
	}

	if !job.Status.IsTerminal() {
		return
	}

	// The response may have raced a Set or Clear while in flight; apply it
	// only if the pointer still names the job we asked about.
	current, err := p.Store.Get(ctx)
	if err != nil {
		log.Errorw("re-read active-job pointer", "error", err)
		return
	}
	if current != jobID {
		log.Debugw("stale poll result discarded", "job", jobID, "pointer", current)
		return
	}

	// Clear before emitting: if delivery is interrupted, a later tick finds
	// an empty pointer and cannot re-detect the same job.
	if err := p.Store.Clear(ctx); err != nil {
		log.Errorw("clear pointer", "job", jobID, "error", err)
		return
	}
	ev := domain.CompletionEvent{JobID: jobID, Status: job.Status}
	log.Infow("analysis resolved", "job", jobID, "status", job.Status)
	p.journal(ctx, events.TypeAnalysisResolved, jobID, events.Payload{"status": string(job.Status)})
	if p.Sink != nil {
		p.Sink.Resolved(ev)
	}
}

func (p *Poller) journal(ctx context.Context, evtType, jobID string, payload events.Payload) {
	if p.Journal == nil {
		return
	}
	if err := p.Journal.Append(ctx, evtType, jobID, payload); err != nil {
		p.log().Warnw("journal append", "type", evtType, "error", err)
	}
}

func (p *Poller) log() *zap.SugaredLogger {
	if p.Log != nil {
		return p.Log
	}
	return zap.S().Named("watch")
}

package watch_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"verdyct/internal/api"
	"verdyct/internal/domain"
	"verdyct/internal/events"
	"verdyct/internal/session"
	"verdyct/internal/watch"
)

type fakeFetcher func(ctx context.Context, id string) (domain.AnalysisJob, error)

func (f fakeFetcher) GetProject(ctx context.Context, id string) (domain.AnalysisJob, error) {
	return f(ctx, id)
}

func statusFetcher(status domain.JobStatus) fakeFetcher {
	return func(_ context.Context, id string) (domain.AnalysisJob, error) {
		return domain.AnalysisJob{ID: id, Status: status}, nil
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.CompletionEvent
}

func (r *recordingSink) Resolved(ev domain.CompletionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) All() []domain.CompletionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CompletionEvent, len(r.events))
	copy(out, r.events)
	return out
}

func newTestPoller(t *testing.T, fetch fakeFetcher) (*watch.Poller, watch.Store, *recordingSink) {
	t.Helper()
	conn := newTestDB(t)
	store := watch.Store{DB: conn}
	sink := &recordingSink{}
	p := &watch.Poller{
		Store:   store,
		Gateway: session.Static("token"),
		Client:  fetch,
		Sink:    sink,
		Journal: &events.Journal{DB: conn},
	}
	return p, store, sink
}

func TestTickEmitsOnceAndClearsPointer(t *testing.T) {
	p, store, sink := newTestPoller(t, statusFetcher(domain.JobApproved))
	ctx := context.Background()
	if err := store.Set(ctx, "job-1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	p.Tick(ctx)
	if len(sink.All()) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.All()))
	}
	if sink.All()[0].JobID != "job-1" || sink.All()[0].Status != domain.JobApproved {
		t.Fatalf("unexpected event: %+v", sink.All()[0])
	}
	got, err := store.Get(ctx)
	if err != nil || got != "" {
		t.Fatalf("pointer should be cleared, got %q, %v", got, err)
	}

	// further ticks find an empty pointer and emit nothing
	p.Tick(ctx)
	p.Tick(ctx)
	if len(sink.All()) != 1 {
		t.Fatalf("resolution emitted more than once: %d events", len(sink.All()))
	}
}

func TestTickClearsPointerBeforeEmit(t *testing.T) {
	conn := newTestDB(t)
	store := watch.Store{DB: conn}
	ctx := context.Background()
	if err := store.Set(ctx, "job-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	var pointerAtEmit string
	p := &watch.Poller{
		Store:   store,
		Gateway: session.Static("token"),
		Client:  statusFetcher(domain.JobRejected),
		Sink: watch.SinkFunc(func(ev domain.CompletionEvent) {
			pointerAtEmit, _ = store.Get(ctx)
		}),
	}
	p.Tick(ctx)
	if pointerAtEmit != "" {
		t.Fatalf("pointer still %q at emit time", pointerAtEmit)
	}
}

func TestTickNonTerminalKeepsPointer(t *testing.T) {
	p, store, sink := newTestPoller(t, statusFetcher(domain.JobAnalyzing))
	ctx := context.Background()
	if err := store.Set(ctx, "job-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	p.Tick(ctx)
	if len(sink.All()) != 0 {
		t.Fatalf("non-terminal status emitted an event")
	}
	got, _ := store.Get(ctx)
	if got != "job-1" {
		t.Fatalf("pointer changed to %q", got)
	}
}

func TestTickTransientErrorKeepsPointer(t *testing.T) {
	p, store, sink := newTestPoller(t, func(_ context.Context, id string) (domain.AnalysisJob, error) {
		return domain.AnalysisJob{}, &api.Error{StatusCode: http.StatusInternalServerError}
	})
	ctx := context.Background()
	if err := store.Set(ctx, "job-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	p.Tick(ctx)
	if len(sink.All()) != 0 {
		t.Fatalf("error tick emitted an event")
	}
	got, _ := store.Get(ctx)
	if got != "job-1" {
		t.Fatalf("pointer should survive transient failure, got %q", got)
	}
}

func TestTickNotFoundClearsWithoutEvent(t *testing.T) {
	p, store, sink := newTestPoller(t, func(_ context.Context, id string) (domain.AnalysisJob, error) {
		return domain.AnalysisJob{}, &api.Error{StatusCode: http.StatusNotFound}
	})
	ctx := context.Background()
	if err := store.Set(ctx, "job-gone"); err != nil {
		t.Fatalf("set: %v", err)
	}
	p.Tick(ctx)
	if len(sink.All()) != 0 {
		t.Fatalf("vanished job emitted an event")
	}
	got, _ := store.Get(ctx)
	if got != "" {
		t.Fatalf("pointer should be cleared after 404, got %q", got)
	}
	entries, err := p.Journal.Latest(ctx, 5, events.TypeAnalysisDiscarded, "job-gone")
	if err != nil {
		t.Fatalf("journal read: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one discard entry, got %d", len(entries))
	}
	if entries[0].Payload["reason"] != "not_found" {
		t.Fatalf("unexpected discard payload: %v", entries[0].Payload)
	}
}

func TestTickSkipsWithoutSession(t *testing.T) {
	p, store, sink := newTestPoller(t, func(_ context.Context, id string) (domain.AnalysisJob, error) {
		t.Fatalf("request made without a session")
		return domain.AnalysisJob{}, nil
	})
	p.Gateway = session.Static("")
	ctx := context.Background()
	if err := store.Set(ctx, "job-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	p.Tick(ctx)
	if len(sink.All()) != 0 {
		t.Fatalf("unauthenticated tick emitted an event")
	}
	got, _ := store.Get(ctx)
	if got != "job-1" {
		t.Fatalf("pointer should stay put without a session, got %q", got)
	}
}

func TestTickDiscardsStaleResult(t *testing.T) {
	conn := newTestDB(t)
	store := watch.Store{DB: conn}
	sink := &recordingSink{}
	ctx := context.Background()
	if err := store.Set(ctx, "job-old"); err != nil {
		t.Fatalf("set: %v", err)
	}
	p := &watch.Poller{
		Store:   store,
		Gateway: session.Static("token"),
		Sink:    sink,
		Client: fakeFetcher(func(_ context.Context, id string) (domain.AnalysisJob, error) {
			// a new submission replaces the pointer while the request is in flight
			if err := store.Set(ctx, "job-new"); err != nil {
				return domain.AnalysisJob{}, err
			}
			return domain.AnalysisJob{ID: id, Status: domain.JobApproved}, nil
		}),
	}
	p.Tick(ctx)
	if len(sink.All()) != 0 {
		t.Fatalf("stale result was emitted")
	}
	got, _ := store.Get(ctx)
	if got != "job-new" {
		t.Fatalf("new pointer was clobbered, got %q", got)
	}
}

func TestTickSkipsWhileRequestInFlight(t *testing.T) {
	conn := newTestDB(t)
	store := watch.Store{DB: conn}
	ctx := context.Background()
	if err := store.Set(ctx, "job-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	p := &watch.Poller{
		Store:   store,
		Gateway: session.Static("token"),
		Client: fakeFetcher(func(_ context.Context, id string) (domain.AnalysisJob, error) {
			calls.Add(1)
			close(entered)
			<-release
			return domain.AnalysisJob{ID: id, Status: domain.JobAnalyzing}, nil
		}),
	}
	first := make(chan struct{})
	go func() {
		p.Tick(ctx)
		close(first)
	}()
	<-entered
	p.Tick(ctx) // must return immediately without a second request
	close(release)
	<-first
	if n := calls.Load(); n != 1 {
		t.Fatalf("overlapping tick made %d requests", n)
	}
}

func TestStartStop(t *testing.T) {
	p, store, sink := newTestPoller(t, statusFetcher(domain.JobApproved))
	ctx := context.Background()
	if err := store.Set(ctx, "job-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	p.Interval = 10 * time.Millisecond
	p.Start(ctx)
	p.Start(ctx) // second start is a no-op

	deadline := time.After(2 * time.Second)
	for len(sink.All()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("poller never resolved the job")
		case <-time.After(5 * time.Millisecond):
		}
	}
	p.Stop()
	p.Stop() // idempotent
	if len(sink.All()) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(sink.All()))
	}
}

func TestStopWithoutStart(t *testing.T) {
	p := &watch.Poller{Store: watch.Store{DB: newTestDB(t)}, Gateway: session.Static("token")}
	p.Stop()
}

func TestStopWaitsForRunningTick(t *testing.T) {
	conn := newTestDB(t)
	store := watch.Store{DB: conn}
	ctx := context.Background()
	if err := store.Set(ctx, "job-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	entered := make(chan struct{}, 1)
	p := &watch.Poller{
		Store:    store,
		Gateway:  session.Static("token"),
		Interval: 5 * time.Millisecond,
		Client: fakeFetcher(func(_ context.Context, id string) (domain.AnalysisJob, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			time.Sleep(20 * time.Millisecond)
			return domain.AnalysisJob{ID: id, Status: domain.JobAnalyzing}, nil
		}),
	}
	p.Start(ctx)
	<-entered
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return")
	}
}

// Package jobs owns import job lifecycle state and the per-job progress log.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/folio/internal/domain"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("import job not found")

const (
	defaultEventLimit = 500
	maxEventLimit     = 5000
)

// RunFunc is the orchestration body of a job.
type RunFunc func(ctx context.Context, tracker *Tracker)

// Registry keeps every job of the process in memory. Jobs are not persisted
// and cannot be cancelled once started.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]*entry
	order []uuid.UUID

	running sync.WaitGroup
	now     func() time.Time
}

type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		jobs: map[uuid.UUID]*entry{},
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// entry is the registry-owned state of one job. job is only touched with mu
// held; events is append-only.
type entry struct {
	mu      sync.Mutex
	cond    *sync.Cond
	job     domain.ImportJob
	events  []domain.ImportEvent
	started bool
	done    chan struct{}
}

// Create registers a pending job for the manifest and emits job-created.
func (r *Registry) Create(caller string, files []domain.FileSummary) domain.ImportJob {
	job := domain.ImportJob{
		ID:        uuid.New(),
		Caller:    caller,
		Status:    domain.ImportStatusPending,
		Files:     make([]domain.FileSummary, len(files)),
		CreatedAt: r.now(),
	}
	for i, file := range files {
		job.Files[i] = domain.FileSummary{
			Name:   file.Name,
			Type:   file.Type,
			Status: domain.ImportStatusPending,
			Sheets: []domain.SheetSummary{},
		}
	}

	e := &entry{job: job, done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	e.mu.Lock()
	e.appendLocked(domain.ImportEvent{Type: domain.ImportEventJobCreated, Status: job.Status}, r.now())
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	r.mu.Lock()
	r.jobs[job.ID] = e
	r.order = append(r.order, job.ID)
	r.mu.Unlock()

	log.Printf("[import] job %s created for %q with %d file(s)", job.ID, caller, len(files))
	return snapshot
}

// Start runs fn in a goroutine owned by the registry. A panic inside fn fails
// the job. The job is finished when fn returns if fn did not finish it.
func (r *Registry) Start(id uuid.UUID, fn RunFunc) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("import job %s already started", id)
	}
	e.started = true
	e.mu.Unlock()

	tracker := &Tracker{entry: e, now: r.now}
	r.running.Add(1)
	go func() {
		defer r.running.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[import] panic while processing job %s: %v", id, rec)
				tracker.Fail(fmt.Errorf("panic: %v", rec))
			}
			tracker.Finish()
		}()
		fn(context.Background(), tracker)
	}()
	return nil
}

// Get returns the latest snapshot of a job.
func (r *Registry) Get(id uuid.UUID) (domain.ImportJob, error) {
	e, err := r.entry(id)
	if err != nil {
		return domain.ImportJob{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), nil
}

// List returns snapshots of the caller's jobs, newest first. An empty caller
// lists every job.
func (r *Registry) List(caller string) []domain.ImportJob {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.jobs[id])
	}
	r.mu.RUnlock()

	out := []domain.ImportJob{}
	for _, e := range entries {
		e.mu.Lock()
		if caller == "" || e.job.Caller == caller {
			out = append(out, e.snapshotLocked())
		}
		e.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Events returns the events with a sequence above since together with the
// snapshot current at the moment they were read, so a reader never sees a
// snapshot that is behind the events it was handed. With wait set, the call
// blocks until at least one event is available, the job is terminal, or the
// context ends.
func (r *Registry) Events(ctx context.Context, id uuid.UUID, since int64, limit int, wait bool) ([]domain.ImportEvent, int64, domain.ImportJob, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, since, domain.ImportJob{}, err
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	if since < 0 {
		since = 0
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				e.mu.Lock()
				e.cond.Broadcast()
				e.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		events, next := e.eventsLocked(since, limit)
		if len(events) > 0 || !wait || e.job.Status.Terminal() {
			return events, next, e.snapshotLocked(), nil
		}
		if ctx != nil && ctx.Err() != nil {
			return nil, next, e.snapshotLocked(), ctx.Err()
		}
		e.cond.Wait()
	}
}

// Wait blocks until the job is terminal or the context ends.
func (r *Registry) Wait(ctx context.Context, id uuid.UUID) (domain.ImportJob, error) {
	e, err := r.entry(id)
	if err != nil {
		return domain.ImportJob{}, err
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return domain.ImportJob{}, ctx.Err()
	}
	return r.Get(id)
}

// Shutdown waits for running jobs to finish or the context to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		r.running.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) entry(id uuid.UUID) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e, nil
}

func (e *entry) appendLocked(evt domain.ImportEvent, at time.Time) {
	evt.Seq = int64(len(e.events)) + 1
	evt.JobID = e.job.ID
	evt.At = at
	e.events = append(e.events, evt)
	e.cond.Broadcast()
}

func (e *entry) snapshotLocked() domain.ImportJob {
	return e.job.Clone()
}

// eventsLocked relies on Seq == index+1.
func (e *entry) eventsLocked(since int64, limit int) ([]domain.ImportEvent, int64) {
	total := int64(len(e.events))
	if since >= total {
		return nil, total
	}
	end := since + int64(limit)
	if end > total {
		end = total
	}
	out := make([]domain.ImportEvent, end-since)
	copy(out, e.events[since:end])
	return out, end
}

// Package sessions keeps per-session event hubs, result slots and job handles.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/joescharf/prepx/internal/events"
	"github.com/joescharf/prepx/internal/metrics"
	"github.com/joescharf/prepx/internal/models"
)

// DefaultTTL is how long an idle session is kept before eviction.
const DefaultTTL = 24 * time.Hour

// ErrShutdown is returned by Submit after Shutdown.
var ErrShutdown = errors.New("registry is shut down")

// Status is the state of a session's result slot.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Result is a session's result slot.
type Result struct {
	Status        Status            `json:"status"`
	Tasks         []models.PlanTask `json:"tasks,omitempty"`
	Error         string            `json:"error,omitempty"`
	FailedCourses []string          `json:"failed_courses,omitempty"`
	FinishedAt    time.Time         `json:"finished_at,omitzero"`
}

// JobFunc runs one plan against the hub of its session.
type JobFunc func(ctx context.Context, hub *events.Hub) (*models.PlanOutcome, error)

// Session groups one job's event log, subscribers and result.
type Session struct {
	ID string

	mu      sync.Mutex
	hub     *events.Hub
	result  Result
	job     *Job
	touched time.Time
}

// Hub returns the event hub of the current job.
func (s *Session) Hub() *events.Hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hub
}

// Result returns a copy of the result slot.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Job returns the handle of the latest job, or nil.
func (s *Session) Job() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

func (s *Session) touch(t time.Time) {
	s.mu.Lock()
	s.touched = t
	s.mu.Unlock()
}

// idle reports whether the session may be evicted at now.
func (s *Session) idle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job != nil && s.job.Running() {
		return false
	}
	if s.hub.Subscribers() > 0 {
		return false
	}
	return now.Sub(s.touched) >= ttl
}

// Registry owns every session of the process.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup

	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	onEvict func(id string)
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL sets the idle eviction age.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithLogger sets the logger used for job lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock replaces the registry's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithEvictHook registers a callback run after a session is evicted, used to
// remove its uploads.
func WithEvictHook(fn func(id string)) Option {
	return func(r *Registry) { r.onEvict = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the session with id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.touch(r.now())
	}
	return s, ok
}

// GetOrCreate returns the session with id, creating an empty one so that
// streams can attach before the first plan is submitted.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(id)
}

func (r *Registry) getOrCreateLocked(id string) *Session {
	s, ok := r.sessions[id]
	if !ok {
		s = &Session{
			ID:     id,
			hub:    events.NewHub(),
			result: Result{Status: StatusProcessing},
		}
		r.sessions[id] = s
		metrics.Get().Sessions.Set(float64(len(r.sessions)))
	}
	s.touch(r.now())
	return s
}

// Len returns the number of sessions held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Submit resets the session's log and result and starts fn in the
// background. A previous job is not cancelled; it keeps writing to the hub it
// started with and its result is discarded.
func (r *Registry) Submit(id string, fn JobFunc) (*Job, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShutdown
	}
	s := r.getOrCreateLocked(id)
	r.wg.Add(1)
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	now := r.now()
	job := newJob(id, cancel, now)

	s.mu.Lock()
	// Keep a hub nobody has written to so streams opened before the
	// submission stay attached.
	if s.hub.Len() > 0 || s.hub.Done() {
		s.hub = events.NewHub()
	}
	hub := s.hub
	s.result = Result{Status: StatusProcessing}
	s.job = job
	s.touched = now
	s.mu.Unlock()

	r.logger.Info("plan job started", "session", id, "job", job.ID)
	go r.supervise(ctx, s, job, hub, fn)
	return job, nil
}

func (r *Registry) supervise(ctx context.Context, s *Session, job *Job, hub *events.Hub, fn JobFunc) {
	defer r.wg.Done()
	defer close(job.done)
	defer job.cancel()

	outcome, err := r.run(ctx, hub, fn)

	res := Result{Status: StatusComplete, FinishedAt: r.now()}
	label := "complete"
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		label = "failed"
	}
	if outcome != nil {
		res.Tasks = outcome.Tasks
		res.FailedCourses = outcome.FailedCourses
	}

	// The result is visible before the terminal event so a client reacting
	// to it never reads a stale slot.
	s.mu.Lock()
	if s.job == job {
		s.result = res
	}
	s.touched = r.now()
	s.mu.Unlock()

	if err != nil {
		hub.Finish(events.StatusError, "Pipeline failed: "+err.Error())
		r.logger.Error("plan job failed", "session", s.ID, "job", job.ID, "error", err)
	} else {
		hub.Finish(events.StatusSuccess, "All agents finished.")
		r.logger.Info("plan job complete", "session", s.ID, "job", job.ID, "tasks", len(res.Tasks))
	}

	m := metrics.Get()
	m.Jobs.WithLabelValues(label).Inc()
	m.JobDuration.Observe(time.Since(job.StartedAt).Seconds())
}

// run invokes fn, turning a panic into an error.
func (r *Registry) run(ctx context.Context, hub *events.Hub, fn JobFunc) (outcome *models.PlanOutcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("plan job panicked", "panic", p, "stack", string(debug.Stack()))
			hub.Emit("System", fmt.Sprintf("Error: %v", p), events.StatusError)
			outcome, err = nil, fmt.Errorf("internal error: %v", p)
		}
	}()
	outcome, err = fn(ctx, hub)
	if err == nil && outcome == nil {
		outcome = &models.PlanOutcome{}
	}
	return outcome, err
}

// Sweep evicts sessions idle for at least the TTL that have no running job and
// no subscribers. It returns the number evicted.
func (r *Registry) Sweep() int {
	now := r.now()
	var evicted []string

	r.mu.Lock()
	for id, s := range r.sessions {
		if s.idle(now, r.ttl) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	metrics.Get().Sessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, id := range evicted {
		r.logger.Debug("session evicted", "session", id)
		if r.onEvict != nil {
			r.onEvict(id)
		}
	}
	return len(evicted)
}

// Run sweeps every interval until ctx ends.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("evicted idle sessions", "count", n)
			}
		}
	}
}

// Shutdown rejects new jobs, cancels running ones and waits for them to
// record their results or for ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	var jobs []*Job
	for _, s := range r.sessions {
		if j := s.Job(); j != nil && j.Running() {
			jobs = append(jobs, j)
		}
	}
	r.mu.Unlock()

	for _, j := range jobs {
		j.Cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/joescharf/prepx/internal/events"
	"github.com/joescharf/prepx/internal/models"
	"github.com/joescharf/prepx/internal/sessions"
	"github.com/joescharf/prepx/internal/stages"
)

// ErrNoCourses is returned for a request without courses.
var ErrNoCourses = errors.New("plan request has no courses")

// Orchestrator runs every course of a request in order and then synthesizes
// one schedule across them.
type Orchestrator struct {
	exec    *stages.Executor
	courses *CoursePipeline
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrchestrator creates an orchestrator over exec and src.
func NewOrchestrator(exec *stages.Executor, src DocumentSource, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		exec:    exec,
		courses: NewCoursePipeline(exec, src, logger),
		logger:  logger,
		now:     time.Now,
	}
}

// Job adapts Run to the session registry.
func (o *Orchestrator) Job(req models.PlanRequest) sessions.JobFunc {
	return func(ctx context.Context, hub *events.Hub) (*models.PlanOutcome, error) {
		return o.Run(ctx, req, hub)
	}
}

// runCourse isolates one course: a panic fails that course only.
func (o *Orchestrator) runCourse(ctx context.Context, session string, course models.Course, hub *events.Hub) (res models.CourseResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("course pipeline panicked", "course", course.Code, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return o.courses.Run(ctx, session, course, hub)
}

// Run executes the plan. Courses run strictly one after another; a failed
// course is reported and left out of the schedule. The returned error is
// job-fatal: cancellation, every course failing, or the synthesis call
// itself failing. Run never emits the terminal event; the caller does.
func (o *Orchestrator) Run(ctx context.Context, req models.PlanRequest, hub *events.Hub) (*models.PlanOutcome, error) {
	if len(req.Courses) == 0 {
		return nil, ErrNoCourses
	}
	outcome := &models.PlanOutcome{}
	var results []models.CourseResult
	total := len(req.Courses)

	for i, course := range req.Courses {
		res, err := o.runCourse(ctx, req.SessionID, course, hub)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, fmt.Errorf("plan cancelled: %w", ctxErr)
		}
		if err != nil {
			o.logger.Error("course failed", "session", req.SessionID, "course", course.Code, "error", err)
			hub.Emit(AgentSystem, fmt.Sprintf("Course %d/%d failed: %s: %v", i+1, total, course.Code, err), events.StatusError)
			outcome.FailedCourses = append(outcome.FailedCourses, course.Code)
			continue
		}
		results = append(results, res)
		hub.Emit(AgentSystem, fmt.Sprintf("Course %d/%d fully analyzed: %s", i+1, total, course.Code), events.StatusSuccess)
	}

	if len(results) == 0 {
		return outcome, fmt.Errorf("every course failed: %s", strings.Join(outcome.FailedCourses, ", "))
	}

	var hours float64
	examDates := make(map[string]string, len(results))
	for i := range results {
		hours += results[i].TotalHours()
		examDates[results[i].Course.Code] = results[i].ExamDate
	}
	hub.Emit(AgentChief, fmt.Sprintf("Synthesizing schedule across %d courses (~%.0fh of content)...", len(results), hours), events.StatusLoading)

	tasks, err := o.exec.SynthesizeSchedule(ctx, Summarize(results), req.Constraints, o.now())
	if err != nil {
		if stages.IsCallFailure(err) {
			return outcome, fmt.Errorf("schedule synthesis: %w", err)
		}
		o.logger.Warn("schedule synthesis returned no usable tasks", "session", req.SessionID, "error", err)
		hub.Warn(AgentChief, fmt.Sprintf("Schedule output could not be read: %v", err))
	}

	ApplyColors(tasks, AssignColors(req.Courses))
	if bad := DeadlineViolations(tasks, examDates); len(bad) > 0 {
		o.logger.Warn("tasks scheduled on or after exam date", "session", req.SessionID, "count", len(bad))
		hub.Warn(AgentChief, fmt.Sprintf("%d study sessions fall on or after their exam date.", len(bad)))
	}

	if tasks == nil {
		tasks = []models.PlanTask{}
	}
	outcome.Tasks = tasks
	hub.Emit(AgentChief, fmt.Sprintf("Plan complete: %d study sessions scheduled across %d days.", len(tasks), studyDays(tasks)), events.StatusSuccess)
	return outcome, nil
}

// Package pipeline runs the per-course stage sequence and the multi-course
// orchestration that ends in one schedule synthesis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joescharf/prepx/internal/events"
	"github.com/joescharf/prepx/internal/llm"
	"github.com/joescharf/prepx/internal/models"
	"github.com/joescharf/prepx/internal/stages"
)

// Agent labels shown on progress events.
const (
	AgentSyllabus = "SyllabusExpert"
	AgentScope    = "ExamScopeAnalyst"
	AgentChapters = "TocNavigator"
	AgentMapping  = "StudyGuideGuru"
	AgentChief    = "ChiefOrchestrator"
	AgentSystem   = "System"
)

const previewTopics = 4

// CoursePipeline runs syllabus analysis, exam scope analysis and textbook
// mapping for one course.
type CoursePipeline struct {
	exec   *stages.Executor
	docs   DocumentSource
	logger *slog.Logger
}

// NewCoursePipeline creates a course pipeline.
func NewCoursePipeline(exec *stages.Executor, src DocumentSource, logger *slog.Logger) *CoursePipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoursePipeline{exec: exec, docs: src, logger: logger}
}

// abortErr returns the error that must stop the course: cancellation, or a
// model failure that retrying the next stage cannot fix. Anything else is a
// recoverable stage failure.
func abortErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, llm.ErrNotConfigured) || llm.IsFatal(err) {
		return err
	}
	return nil
}

// warn reports a recoverable stage failure on the hub.
func (p *CoursePipeline) warn(hub *events.Hub, agent, what string, err error) {
	p.logger.Warn("stage fell back to default", "agent", agent, "error", err)
	hub.Warn(agent, fmt.Sprintf("%s: %v. Continuing with defaults.", what, err))
}

func (p *CoursePipeline) documents(ctx context.Context, hub *events.Hub, session string, course models.Course, docType models.DocType) []string {
	paths, err := courseDocuments(ctx, p.docs, session, course, docType)
	if err != nil {
		p.warn(hub, AgentSystem, fmt.Sprintf("Could not list %s documents for %s", docType, course.Code), err)
	}
	return paths
}

// Run analyses one course. Stage failures fall back to defaults and are
// reported as warnings; the returned error is set only when the course
// cannot continue.
func (p *CoursePipeline) Run(ctx context.Context, session string, course models.Course, hub *events.Hub) (models.CourseResult, error) {
	res := models.CourseResult{Course: course}

	// Syllabus
	hub.Emit(AgentSyllabus, fmt.Sprintf("Analyzing syllabus for %s...", course.Code), events.StatusLoading)
	syllabus, err := p.exec.AnalyzeSyllabus(ctx, course, p.documents(ctx, hub, session, course, models.DocTypeSyllabus))
	if aerr := abortErr(err); aerr != nil {
		return res, aerr
	} else if err != nil {
		p.warn(hub, AgentSyllabus, "Syllabus analysis for "+course.Code+" failed", err)
	}
	res.Syllabus = syllabus
	hub.Emit(AgentSyllabus, fmt.Sprintf("Syllabus extracted for %s: %d modules identified.", course.Code, len(syllabus.Modules)), events.StatusSuccess)

	// Exam scope
	hub.Emit(AgentScope, fmt.Sprintf("Analyzing midterm overview for %s...", course.Code), events.StatusLoading)
	scope, err := p.exec.AnalyzeExamScope(ctx, p.documents(ctx, hub, session, course, models.DocTypeMidtermOverview))
	if aerr := abortErr(err); aerr != nil {
		return res, aerr
	} else if err != nil {
		p.warn(hub, AgentScope, "Exam scope analysis for "+course.Code+" failed", err)
	}

	if err := CheckExamDate(course.ExamDate); err != nil {
		hub.Warn(AgentScope, fmt.Sprintf("Manual exam date for %s ignored: %v", course.Code, err))
	}
	res.ExamDate = ResolveExamDate(course.ExamDate, scope.ExamDate)
	if res.ExamDate != "" {
		source := " (from midterm overview)"
		if d, ok := NormalizeDate(course.ExamDate); ok && d == res.ExamDate {
			source = " (manual override)"
		}
		hub.Emit(AgentScope, fmt.Sprintf("Exam date for %s: %s%s", course.Code, res.ExamDate, source), events.StatusSuccess)
	}

	if len(scope.Topics) == 0 && len(syllabus.Modules) > 0 {
		hub.Emit(AgentScope, fmt.Sprintf("No topics from midterm overview, falling back to %d syllabus modules as topics.", len(syllabus.Modules)), events.StatusLoading)
		if fallback := FallbackTopics(syllabus.Modules); len(fallback) > 0 {
			scope.Topics = fallback
			hub.Emit(AgentScope, fmt.Sprintf("Fallback: %d topics derived from syllabus modules.", len(fallback)), events.StatusSuccess)
		}
	}
	res.Scope = scope
	hub.Emit(AgentScope, fmt.Sprintf("Exam scope for %s: %d topics: %s", course.Code, len(scope.Topics), TopicPreview(scope.Topics, previewTopics)), events.StatusSuccess)

	// Textbook
	hub.Emit(AgentChapters, fmt.Sprintf("Scanning textbook TOC for %s to find relevant chapters...", course.Code), events.StatusLoading)
	books := p.documents(ctx, hub, session, course, models.DocTypeTextbook)
	switch {
	case len(books) == 0:
		hub.Emit(AgentChapters, fmt.Sprintf("No textbook uploaded for %s, skipping.", course.Code), events.StatusSuccess)
	case len(scope.Topics) == 0:
		hub.Emit(AgentChapters, fmt.Sprintf("No topics to locate for %s, skipping.", course.Code), events.StatusSuccess)
	default:
		if len(books) > 1 {
			p.logger.Info("multiple textbooks uploaded, using the first", "course", course.Code, "path", books[0])
		}
		guide, sections, err := p.exec.MapTextbook(ctx, books[0], topicNames(scope.Topics))
		if aerr := abortErr(err); aerr != nil {
			return res, aerr
		} else if err != nil {
			p.warn(hub, AgentMapping, "Textbook mapping for "+course.Code+" failed", err)
		}
		if len(sections) == 0 {
			hub.Warn(AgentChapters, fmt.Sprintf("No chapters located for %s; topics marked %s.", course.Code, models.ResourceUnidentified))
		} else {
			hub.Emit(AgentChapters, fmt.Sprintf("TOC scan complete for %s: %d sections located.", course.Code, len(sections)), events.StatusSuccess)
		}
		res.Guide = guide
	}
	hub.Emit(AgentMapping, fmt.Sprintf("Resource mapping for %s: %d topics mapped, ~%.1fh estimated.", course.Code, len(res.Guide), res.TotalHours()), events.StatusSuccess)

	return res, nil
}

// Package stages runs the individual model calls of the planning pipeline.
// Every stage returns a usable value: on failure it returns the stage's
// default together with a *Error describing what went wrong.
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/prepx/internal/docs"
	"github.com/joescharf/prepx/internal/llm"
	"github.com/joescharf/prepx/internal/metrics"
	"github.com/joescharf/prepx/internal/models"
	"github.com/joescharf/prepx/internal/normalize"
)

// Stage names used in logs and metrics.
const (
	StageSyllabus = "syllabus"
	StageScope    = "exam_scope"
	StageChapters = "chapters"
	StageMapping  = "resource_mapping"
	StageSchedule = "schedule"
)

// TruncationMarker is appended to a textbook sample cut at the ceiling.
const TruncationMarker = "\n[...truncated...]"

// Kind classifies a stage failure.
type Kind string

const (
	KindRead  Kind = "read"  // documents could not be read
	KindCall  Kind = "call"  // the model call failed
	KindParse Kind = "parse" // no JSON in the response
	KindShape Kind = "shape" // JSON of an unusable shape
)

// Error reports a stage that fell back to its default value.
type Error struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCallFailure reports whether err is a stage error caused by the model call
// itself rather than by its output.
func IsCallFailure(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindCall
}

// Options bounds stage inputs and outputs.
type Options struct {
	MaxModules         int
	MaxTopicsPerModule int
	MaxScopeTopics     int
	TocPages           int
	SamplePages        int
	MaxSampleChars     int
	DefaultHours       float64
	MaxTokens          int64
	PlanMaxTokens      int64
}

// DefaultOptions returns the stock limits.
func DefaultOptions() Options {
	return Options{
		MaxModules:         10,
		MaxTopicsPerModule: 3,
		MaxScopeTopics:     15,
		TocPages:           15,
		SamplePages:        3,
		MaxSampleChars:     15000,
		DefaultHours:       models.DefaultTopicHours,
		MaxTokens:          llm.DefaultMaxTokens,
		PlanMaxTokens:      16384,
	}
}

// Executor runs stages against one model and one text extractor.
type Executor struct {
	agent     llm.Agent
	extractor docs.TextExtractor
	opts      Options
	logger    *slog.Logger
}

// NewExecutor creates an executor. A nil logger uses slog.Default.
func NewExecutor(agent llm.Agent, extractor docs.TextExtractor, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{agent: agent, extractor: extractor, opts: opts, logger: logger}
}

// Options returns the executor's limits.
func (e *Executor) Options() Options { return e.opts }

// call runs one model request and recovers its JSON value.
func (e *Executor) call(ctx context.Context, stage, prompt string, maxTokens int64) (json.RawMessage, error) {
	start := time.Now()
	m := metrics.Get()
	defer func() { m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds()) }()

	resp, err := e.agent.Complete(ctx, llm.Request{
		Label:     stage,
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		m.StageRuns.WithLabelValues(stage, string(KindCall)).Inc()
		return nil, &Error{Stage: stage, Kind: KindCall, Err: err}
	}
	e.logger.Debug("stage response", "stage", stage, "prompt_chars", len(prompt),
		"input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)

	raw, err := normalize.Extract(resp.Text)
	if err != nil {
		m.StageRuns.WithLabelValues(stage, string(KindParse)).Inc()
		return nil, &Error{Stage: stage, Kind: KindParse, Err: err}
	}
	m.StageRuns.WithLabelValues(stage, "ok").Inc()
	return raw, nil
}

func shapeError(stage string, err error) error {
	metrics.Get().StageRuns.WithLabelValues(stage, string(KindShape)).Inc()
	return &Error{Stage: stage, Kind: KindShape, Err: err}
}

// readAll concatenates every document. Partial read failures are logged; an
// error is returned only when nothing could be read.
func (e *Executor) readAll(stage string, paths []string) (string, error) {
	text, errs := docs.ExtractAll(e.extractor, paths)
	for _, err := range errs {
		e.logger.Warn("document unreadable", "stage", stage, "error", err)
	}
	if strings.TrimSpace(text) == "" && len(errs) > 0 {
		return "", &Error{Stage: stage, Kind: KindRead, Err: errors.Join(errs...)}
	}
	return text, nil
}

// AnalyzeSyllabus extracts course structure from the syllabus documents. With
// no documents it returns a stub carrying the course's own name and code
// without calling the model.
func (e *Executor) AnalyzeSyllabus(ctx context.Context, course models.Course, paths []string) (models.SyllabusInfo, error) {
	info := models.SyllabusInfo{CourseName: course.Name, CourseCode: course.Code}
	if len(paths) == 0 {
		return info, nil
	}
	text, err := e.readAll(StageSyllabus, paths)
	if err != nil {
		return info, err
	}

	raw, err := e.call(ctx, StageSyllabus, buildSyllabusPrompt(text, e.opts.MaxModules, e.opts.MaxTopicsPerModule), e.opts.MaxTokens)
	if err != nil {
		return info, err
	}
	var w syllabusWire
	if err := decodeObject(raw, "modules", &w); err != nil {
		return info, shapeError(StageSyllabus, err)
	}

	if w.CourseName != "" {
		info.CourseName = string(w.CourseName)
	}
	if w.CourseCode != "" {
		info.CourseCode = string(w.CourseCode)
	}
	for _, mw := range w.Modules {
		if len(info.Modules) >= e.opts.MaxModules {
			break
		}
		mod := models.Module{Name: strings.TrimSpace(string(mw.Name)), Week: int(mw.Week)}
		for _, t := range mw.Topics {
			if t == "" {
				continue
			}
			if len(mod.Topics) >= e.opts.MaxTopicsPerModule {
				break
			}
			mod.Topics = append(mod.Topics, string(t))
		}
		if mod.Name == "" && len(mod.Topics) == 0 {
			continue
		}
		info.Modules = append(info.Modules, mod)
	}
	for _, a := range w.Assessments {
		info.Assessments = append(info.Assessments, models.Assessment{
			Type:   string(a.Type),
			Weight: string(a.Weight),
			Date:   string(a.Date),
		})
	}
	return info, nil
}

// AnalyzeExamScope extracts the exam date and examinable topics from the exam
// overview documents. The date is returned as the model wrote it; callers
// resolve placeholder values.
func (e *Executor) AnalyzeExamScope(ctx context.Context, paths []string) (models.ExamScope, error) {
	var scope models.ExamScope
	if len(paths) == 0 {
		return scope, nil
	}
	text, err := e.readAll(StageScope, paths)
	if err != nil {
		return scope, err
	}

	raw, err := e.call(ctx, StageScope, buildScopePrompt(text, e.opts.MaxScopeTopics), e.opts.MaxTokens)
	if err != nil {
		return scope, err
	}
	var w scopeWire
	if err := decodeObject(raw, "topics", &w); err != nil {
		return scope, shapeError(StageScope, err)
	}

	scope.ExamDate = strings.TrimSpace(string(w.ExamDate))
	seen := make(map[string]bool)
	for _, t := range w.Topics {
		name := strings.TrimSpace(t.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		if len(scope.Topics) >= e.opts.MaxScopeTopics {
			break
		}
		seen[key] = true
		scope.Topics = append(scope.Topics, models.Topic{Name: name, Importance: models.ParseImportance(t.Importance)})
	}
	return scope, nil
}

// LocateChapters asks the model which textbook sections cover topics, using
// only the first pages of the book. Page ranges are clamped to the book.
func (e *Executor) LocateChapters(ctx context.Context, path string, topics []string) ([]models.Section, error) {
	total, err := e.extractor.PageCount(path)
	if err != nil {
		return nil, &Error{Stage: StageChapters, Kind: KindRead, Err: err}
	}
	toc, err := e.extractor.ExtractPages(path, 0, e.opts.TocPages)
	if err != nil {
		return nil, &Error{Stage: StageChapters, Kind: KindRead, Err: err}
	}
	e.logger.Debug("scanning table of contents", "path", path, "pages", total)

	raw, err := e.call(ctx, StageChapters, buildTocPrompt(total, topics, toc), e.opts.MaxTokens)
	if err != nil {
		return nil, err
	}
	wires, err := normalize.DecodeList[sectionWire](raw, "relevant_sections", "sections", "chapters")
	if err != nil {
		return nil, shapeError(StageChapters, err)
	}

	var sections []models.Section
	for _, w := range wires {
		s := models.Section{
			Chapter:   strings.TrimSpace(string(w.Chapter)),
			StartPage: int(w.StartPage),
			EndPage:   int(w.EndPage),
		}
		if s.StartPage < 1 {
			s.StartPage = 1
		}
		if total > 0 && s.StartPage > total {
			continue
		}
		if s.EndPage < s.StartPage {
			s.EndPage = s.StartPage
		}
		if total > 0 && s.EndPage > total {
			s.EndPage = total
		}
		for _, t := range w.CoversTopics {
			if t != "" {
				s.CoversTopics = append(s.CoversTopics, string(t))
			}
		}
		sections = append(sections, s)
	}
	return sections, nil
}

// SampleRanges returns the first samplePages pages of each section, never
// past the section's end.
func SampleRanges(sections []models.Section, samplePages int) []docs.PageRange {
	ranges := make([]docs.PageRange, 0, len(sections))
	for _, s := range sections {
		end := min(s.StartPage+samplePages, s.EndPage)
		if end < s.StartPage {
			end = s.StartPage
		}
		ranges = append(ranges, docs.PageRange{Start: s.StartPage, End: end})
	}
	return ranges
}

// Truncate cuts text to maxChars characters and appends TruncationMarker when
// anything was removed.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	return string(r[:maxChars]) + TruncationMarker
}

// MapResources maps topics to resources using a bounded sample of the
// localized sections.
func (e *Executor) MapResources(ctx context.Context, path string, topics []string, sections []models.Section) ([]models.ResourceMapping, error) {
	ranges := SampleRanges(sections, e.opts.SamplePages)
	sample, err := e.extractor.ExtractRanges(path, ranges)
	if err != nil {
		return nil, &Error{Stage: StageMapping, Kind: KindRead, Err: err}
	}
	sample = Truncate(sample, e.opts.MaxSampleChars)
	e.logger.Debug("sampling textbook", "path", path, "ranges", len(ranges), "chars", len(sample))

	raw, err := e.call(ctx, StageMapping, buildMappingPrompt(topics, sections, sample), e.opts.MaxTokens)
	if err != nil {
		return nil, err
	}
	wires, err := normalize.DecodeList[mappingWire](raw, "mappings", "resources", "guide", "topics")
	if err != nil {
		return nil, shapeError(StageMapping, err)
	}

	var out []models.ResourceMapping
	for _, w := range wires {
		m := models.ResourceMapping{
			Topic:          strings.TrimSpace(string(w.Topic)),
			Resource:       strings.TrimSpace(string(w.Resource)),
			EstimatedHours: float64(w.EstimatedHours),
		}
		if m.Topic == "" {
			continue
		}
		if m.Resource == "" {
			m.Resource = models.ResourceTextbook
		}
		if m.EstimatedHours <= 0 {
			m.EstimatedHours = e.opts.DefaultHours
		}
		out = append(out, m)
	}
	return out, nil
}

// Unidentified maps every topic to the unidentified resource with the default
// hour estimate.
func Unidentified(topics []string, hours float64) []models.ResourceMapping {
	out := make([]models.ResourceMapping, 0, len(topics))
	for _, t := range topics {
		out = append(out, models.ResourceMapping{Topic: t, Resource: models.ResourceUnidentified, EstimatedHours: hours})
	}
	return out
}

// MapTextbook localizes chapters and then maps resources. When no section is
// localized the textbook is never sampled and every topic is unidentified.
func (e *Executor) MapTextbook(ctx context.Context, path string, topics []string) ([]models.ResourceMapping, []models.Section, error) {
	sections, err := e.LocateChapters(ctx, path, topics)
	if len(sections) == 0 {
		return Unidentified(topics, e.opts.DefaultHours), nil, err
	}
	mappings, err := e.MapResources(ctx, path, topics, sections)
	return mappings, sections, err
}

// SynthesizeSchedule turns the per-course summaries into dated tasks. Tasks
// without a valid date are dropped; the rest are returned in date order.
func (e *Executor) SynthesizeSchedule(ctx context.Context, summaries []models.CourseSummary, c models.Constraints, today time.Time) ([]models.PlanTask, error) {
	raw, err := e.call(ctx, StageSchedule, buildPlanPrompt(summaries, c, today), e.opts.PlanMaxTokens)
	if err != nil {
		return nil, err
	}
	wires, err := normalize.DecodeList[taskWire](raw, "tasks", "schedule", "plan", "sessions")
	if err != nil {
		return nil, shapeError(StageSchedule, err)
	}

	tasks := make([]models.PlanTask, 0, len(wires))
	for _, w := range wires {
		date := strings.TrimSpace(string(w.Date))
		if _, err := time.Parse(dateLayout, date); err != nil {
			e.logger.Debug("dropping task without valid date", "date", date, "topic", string(w.Topic))
			continue
		}
		tasks = append(tasks, models.PlanTask{
			Date:          date,
			Course:        strings.TrimSpace(string(w.Course)),
			Topic:         strings.TrimSpace(string(w.Topic)),
			TaskType:      parseTaskType(string(w.TaskType)),
			DurationHours: float64(w.DurationHours),
			Resources:     string(w.Resources),
			Notes:         string(w.Notes),
			CourseColor:   string(w.CourseColor),
		})
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Date < tasks[j].Date })
	return tasks, nil
}

func parseTaskType(s string) models.TaskType {
	switch models.TaskType(strings.ToLower(strings.TrimSpace(s))) {
	case models.TaskTypePractice:
		return models.TaskTypePractice
	case models.TaskTypeReview:
		return models.TaskTypeReview
	default:
		return models.TaskTypeLearn
	}
}

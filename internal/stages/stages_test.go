package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prepx/internal/docs"
	"github.com/joescharf/prepx/internal/llm"
	"github.com/joescharf/prepx/internal/models"
	"github.com/joescharf/prepx/internal/normalize"
)

// scriptedAgent answers by request label.
type scriptedAgent struct {
	mu       sync.Mutex
	replies  map[string]string
	errs     map[string]error
	requests []llm.Request
}

func (a *scriptedAgent) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	if err := a.errs[req.Label]; err != nil {
		return nil, err
	}
	return &llm.Response{Text: a.replies[req.Label], InputTokens: 10, OutputTokens: 5}, nil
}

func (a *scriptedAgent) calls(label string) []llm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []llm.Request
	for _, r := range a.requests {
		if r.Label == label {
			out = append(out, r)
		}
	}
	return out
}

// pageBook is an in-memory TextExtractor.
type pageBook struct {
	pages  map[string][]string
	ranges [][]docs.PageRange
}

func (b *pageBook) PageCount(path string) (int, error) {
	p, ok := b.pages[path]
	if !ok {
		return 0, fmt.Errorf("open %s: not found", path)
	}
	return len(p), nil
}

func (b *pageBook) ExtractPages(path string, start, end int) (string, error) {
	p, ok := b.pages[path]
	if !ok {
		return "", fmt.Errorf("open %s: not found", path)
	}
	if end <= 0 || end > len(p) {
		end = len(p)
	}
	var parts []string
	for i := start; i < end; i++ {
		parts = append(parts, fmt.Sprintf("[Page %d]\n%s", i+1, p[i]))
	}
	return strings.Join(parts, "\n\n"), nil
}

func (b *pageBook) ExtractRanges(path string, ranges []docs.PageRange) (string, error) {
	b.ranges = append(b.ranges, ranges)
	var parts []string
	for _, r := range ranges {
		text, err := b.ExtractPages(path, r.Start-1, r.End)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}

func newTestExecutor(agent llm.Agent, book *pageBook) *Executor {
	if book == nil {
		book = &pageBook{pages: map[string][]string{}}
	}
	return NewExecutor(agent, book, DefaultOptions(), nil)
}

func TestAnalyzeSyllabus_NoDocumentsSkipsCall(t *testing.T) {
	agent := &scriptedAgent{}
	e := newTestExecutor(agent, nil)

	info, err := e.AnalyzeSyllabus(context.Background(), models.Course{Code: "CS101", Name: "Intro"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Intro", info.CourseName)
	assert.Equal(t, "CS101", info.CourseCode)
	assert.Empty(t, info.Modules)
	assert.Empty(t, agent.requests)
}

func TestAnalyzeSyllabus_FencedAndBounded(t *testing.T) {
	var mods []string
	for i := 0; i < 12; i++ {
		mods = append(mods, fmt.Sprintf(`{"name":"M%d","topics":["a","b","c","d"],"week":"%d"}`, i, i+1))
	}
	reply := "Here you go:\n```json\n{\"course_name\":\"Algorithms\",\"modules\":[" + strings.Join(mods, ",") +
		"],\"assessments\":[{\"type\":\"midterm\",\"weight\":\"30%\",\"date\":\"2025-05-01\"}]}\n```"
	agent := &scriptedAgent{replies: map[string]string{StageSyllabus: reply}}
	book := &pageBook{pages: map[string][]string{"syl.txt": {"week 1 sorting"}}}
	e := newTestExecutor(agent, book)

	info, err := e.AnalyzeSyllabus(context.Background(), models.Course{Code: "CS201", Name: "Algo"}, []string{"syl.txt"})
	require.NoError(t, err)
	assert.Equal(t, "Algorithms", info.CourseName)
	assert.Equal(t, "CS201", info.CourseCode)
	assert.Len(t, info.Modules, 10)
	assert.Len(t, info.Modules[0].Topics, 3)
	assert.Equal(t, 1, info.Modules[0].Week)
	require.Len(t, info.Assessments, 1)
	assert.Equal(t, "30%", info.Assessments[0].Weight)

	calls := agent.calls(StageSyllabus)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "week 1 sorting")
	assert.Contains(t, calls[0].Prompt, "Up to 10 modules")
}

func TestAnalyzeSyllabus_UnparseableReturnsStub(t *testing.T) {
	agent := &scriptedAgent{replies: map[string]string{StageSyllabus: "not json"}}
	book := &pageBook{pages: map[string][]string{"syl.txt": {"x"}}}
	e := newTestExecutor(agent, book)

	info, err := e.AnalyzeSyllabus(context.Background(), models.Course{Code: "CS1", Name: "One"}, []string{"syl.txt"})
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindParse, se.Kind)
	assert.ErrorIs(t, err, normalize.ErrNoJSON)
	assert.Equal(t, "One", info.CourseName)
	assert.Empty(t, info.Modules)
}

func TestAnalyzeSyllabus_UnreadableDocuments(t *testing.T) {
	agent := &scriptedAgent{}
	e := newTestExecutor(agent, nil)

	_, err := e.AnalyzeSyllabus(context.Background(), models.Course{Code: "CS1"}, []string{"missing.pdf"})
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindRead, se.Kind)
	assert.Empty(t, agent.requests)
}

func TestAnalyzeExamScope_MixedTopicShapes(t *testing.T) {
	reply := `{"exam_date":"2025-06-01","topics":["Graphs",{"name":"Trees","importance":"HIGH"},{"topic":"graphs"},{"name":""},{"name":"Heaps","importance":"whatever"}]}`
	agent := &scriptedAgent{replies: map[string]string{StageScope: reply}}
	book := &pageBook{pages: map[string][]string{"mid.txt": {"overview"}}}
	e := newTestExecutor(agent, book)

	scope, err := e.AnalyzeExamScope(context.Background(), []string{"mid.txt"})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", scope.ExamDate)
	assert.Equal(t, []models.Topic{
		{Name: "Graphs", Importance: models.ImportanceMedium},
		{Name: "Trees", Importance: models.ImportanceHigh},
		{Name: "Heaps", Importance: models.ImportanceMedium},
	}, scope.Topics)
}

func TestAnalyzeExamScope_BareListAndLimit(t *testing.T) {
	var topics []string
	for i := 0; i < 20; i++ {
		topics = append(topics, fmt.Sprintf(`{"name":"T%d","importance":"low"}`, i))
	}
	agent := &scriptedAgent{replies: map[string]string{StageScope: "[" + strings.Join(topics, ",") + "]"}}
	book := &pageBook{pages: map[string][]string{"mid.txt": {"overview"}}}
	e := newTestExecutor(agent, book)

	scope, err := e.AnalyzeExamScope(context.Background(), []string{"mid.txt"})
	require.NoError(t, err)
	assert.Len(t, scope.Topics, 15)
	assert.Empty(t, scope.ExamDate)
	assert.Equal(t, models.ImportanceLow, scope.Topics[0].Importance)
}

func TestAnalyzeExamScope_CallFailure(t *testing.T) {
	agent := &scriptedAgent{errs: map[string]error{StageScope: llm.NewTransientError(errors.New("overloaded"))}}
	book := &pageBook{pages: map[string][]string{"mid.txt": {"overview"}}}
	e := newTestExecutor(agent, book)

	scope, err := e.AnalyzeExamScope(context.Background(), []string{"mid.txt"})
	assert.True(t, IsCallFailure(err))
	assert.True(t, llm.IsTransient(err))
	assert.Empty(t, scope.Topics)
}

func bookOf(n int) []string {
	pages := make([]string, n)
	for i := range pages {
		pages[i] = fmt.Sprintf("content of page %d", i+1)
	}
	return pages
}

func TestLocateChapters_ClampsToBook(t *testing.T) {
	reply := `{"relevant_sections":[
		{"chapter":"Ch 1","start_page":"2","end_page":5,"covers_topics":["A"]},
		{"chapter":"Ch 9","start_page":90,"end_page":99},
		{"chapter":"Ch 4","start_page":30,"end_page":80},
		{"chapter":"Ch 0","start_page":0,"end_page":0}
	]}`
	agent := &scriptedAgent{replies: map[string]string{StageChapters: reply}}
	book := &pageBook{pages: map[string][]string{"book.txt": bookOf(40)}}
	e := newTestExecutor(agent, book)

	sections, err := e.LocateChapters(context.Background(), "book.txt", []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, []models.Section{
		{Chapter: "Ch 1", StartPage: 2, EndPage: 5, CoversTopics: []string{"A"}},
		{Chapter: "Ch 4", StartPage: 30, EndPage: 40},
		{Chapter: "Ch 0", StartPage: 1, EndPage: 1},
	}, sections)

	prompt := agent.calls(StageChapters)[0].Prompt
	assert.Contains(t, prompt, "40-page textbook")
	assert.Contains(t, prompt, "[Page 15]")
	assert.NotContains(t, prompt, "[Page 16]")
	assert.Contains(t, prompt, `["A"]`)
}

func TestSampleRanges(t *testing.T) {
	ranges := SampleRanges([]models.Section{
		{StartPage: 45, EndPage: 78},
		{StartPage: 10, EndPage: 11},
		{StartPage: 5, EndPage: 5},
	}, 3)
	assert.Equal(t, []docs.PageRange{{Start: 45, End: 48}, {Start: 10, End: 11}, {Start: 5, End: 5}}, ranges)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc"+TruncationMarker, Truncate("abcdef", 3))
	assert.Equal(t, "héé"+TruncationMarker, Truncate("héééé", 3))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestMapTextbook_ZeroSectionsShortCircuits(t *testing.T) {
	agent := &scriptedAgent{replies: map[string]string{StageChapters: `{"relevant_sections":[]}`}}
	book := &pageBook{pages: map[string][]string{"book.txt": bookOf(20)}}
	e := newTestExecutor(agent, book)

	mappings, sections, err := e.MapTextbook(context.Background(), "book.txt", []string{"A", "B"})
	require.NoError(t, err)
	assert.Empty(t, sections)
	assert.Equal(t, []models.ResourceMapping{
		{Topic: "A", Resource: models.ResourceUnidentified, EstimatedHours: 2.0},
		{Topic: "B", Resource: models.ResourceUnidentified, EstimatedHours: 2.0},
	}, mappings)
	assert.Empty(t, agent.calls(StageMapping))
	assert.Empty(t, book.ranges)
}

func TestMapTextbook_UnparseableTocShortCircuits(t *testing.T) {
	agent := &scriptedAgent{replies: map[string]string{StageChapters: "I could not find a table of contents."}}
	book := &pageBook{pages: map[string][]string{"book.txt": bookOf(20)}}
	e := newTestExecutor(agent, book)

	mappings, _, err := e.MapTextbook(context.Background(), "book.txt", []string{"A"})
	require.Error(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, models.ResourceUnidentified, mappings[0].Resource)
	assert.Empty(t, agent.calls(StageMapping))
}

func TestMapTextbook_SamplesAndMaps(t *testing.T) {
	agent := &scriptedAgent{replies: map[string]string{
		StageChapters: `{"relevant_sections":[{"chapter":"Ch 2: Sorting","start_page":10,"end_page":30}]}`,
		StageMapping:  "```\n[{\"topic\":\"Sorting\",\"resource\":\"Ch 2.1 (pp. 10-14)\",\"estimated_hours\":\"3.5\"},{\"topic\":\"Heaps\",\"resource\":\"\",\"estimated_hours\":0},{\"resource\":\"orphan\"}]\n```",
	}}
	book := &pageBook{pages: map[string][]string{"book.txt": bookOf(40)}}
	e := newTestExecutor(agent, book)

	mappings, sections, err := e.MapTextbook(context.Background(), "book.txt", []string{"Sorting", "Heaps"})
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, []models.ResourceMapping{
		{Topic: "Sorting", Resource: "Ch 2.1 (pp. 10-14)", EstimatedHours: 3.5},
		{Topic: "Heaps", Resource: models.ResourceTextbook, EstimatedHours: 2.0},
	}, mappings)

	require.Len(t, book.ranges, 1)
	assert.Equal(t, []docs.PageRange{{Start: 10, End: 13}}, book.ranges[0])
	prompt := agent.calls(StageMapping)[0].Prompt
	assert.Contains(t, prompt, "[Page 10]")
	assert.Contains(t, prompt, "[Page 13]")
	assert.NotContains(t, prompt, "[Page 14]")
	assert.Contains(t, prompt, "Ch 2: Sorting (pp. 10-30)")
}

func TestMapResources_TruncatesSample(t *testing.T) {
	long := strings.Repeat("x", 500)
	agent := &scriptedAgent{replies: map[string]string{StageMapping: `[]`}}
	book := &pageBook{pages: map[string][]string{"book.txt": {long, long, long}}}
	opts := DefaultOptions()
	opts.MaxSampleChars = 100
	e := NewExecutor(agent, book, opts, nil)

	_, err := e.MapResources(context.Background(), "book.txt", []string{"A"}, []models.Section{{StartPage: 1, EndPage: 3}})
	require.NoError(t, err)
	prompt := agent.calls(StageMapping)[0].Prompt
	assert.True(t, strings.HasSuffix(prompt, TruncationMarker))
}

func TestSynthesizeSchedule(t *testing.T) {
	reply := `{"tasks":[
		{"date":"2025-04-03","course":"CS101","topic":"Graphs","task_type":"Practice","duration_hours":"1.5","resources":"Ch 4","notes":{"focus":"BFS","self_test":"trace by hand"}},
		{"date":"2025-04-02","course":"CS101","topic":"Graphs","task_type":"learn","duration_hours":2,"resources":"Ch 4","notes":"Focus: edges"},
		{"date":"soon","course":"CS101","topic":"Trees"}
	]}`
	agent := &scriptedAgent{replies: map[string]string{StageSchedule: reply}}
	e := newTestExecutor(agent, nil)

	today := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	summaries := []models.CourseSummary{{Code: "CS101", ExamDate: "2025-04-10", Topics: []models.TopicSummary{
		{Topic: "Graphs", Importance: models.ImportanceHigh, Resource: "Ch 4", Hours: 3},
	}}}
	tasks, err := e.SynthesizeSchedule(context.Background(), summaries, models.Constraints{WeekdayHours: 2, WeekendHours: 4}, today)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "2025-04-02", tasks[0].Date)
	assert.Equal(t, models.TaskTypeLearn, tasks[0].TaskType)
	assert.Equal(t, models.TaskTypePractice, tasks[1].TaskType)
	assert.Equal(t, 1.5, tasks[1].DurationHours)
	assert.Equal(t, "Focus: BFS | Self-Test: trace by hand", tasks[1].Notes)

	req := agent.calls(StageSchedule)[0]
	assert.Equal(t, int64(16384), req.MaxTokens)
	assert.Contains(t, req.Prompt, "Today: 2025-04-01. Start: 2025-04-02.")
	assert.Contains(t, req.Prompt, "Last study day = 1 day before exam")
	assert.Contains(t, req.Prompt, `"exam_date":"2025-04-10"`)
	assert.Contains(t, req.Prompt, "Weekday hours: 2")
	assert.Contains(t, req.Prompt, "No-study dates: []")
}

func TestSynthesizeSchedule_NotJSON(t *testing.T) {
	agent := &scriptedAgent{replies: map[string]string{StageSchedule: "Sorry, I can't."}}
	e := newTestExecutor(agent, nil)

	tasks, err := e.SynthesizeSchedule(context.Background(), nil, models.Constraints{}, time.Now())
	assert.Empty(t, tasks)
	require.Error(t, err)
	assert.False(t, IsCallFailure(err))
}

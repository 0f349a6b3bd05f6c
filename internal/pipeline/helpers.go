package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/prepx/internal/models"
)

// CourseColors are assigned to courses in request order, cycling.
var CourseColors = []string{"#4a5d45", "#8c7851", "#51688c", "#8c5151", "#518c86"}

// DefaultColor is used for tasks whose course is not in the request.
const DefaultColor = "#4a5d45"

// unknownExamDate is what synthesis is told when no date was resolved.
const unknownExamDate = "unknown"

var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"2006-01-02T15:04",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	time.RFC3339,
}

// NormalizeDate parses s in any accepted layout and returns it as
// YYYY-MM-DD. Placeholders such as "unknown", "n/a" and "none" are absent.
func NormalizeDate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if placeholderDate(s) {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func placeholderDate(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unknown", "n/a", "none", "tbd", "null":
		return true
	}
	return false
}

// ErrInvalidExamDate is returned for a manual exam date that is neither a
// placeholder nor a date in an accepted layout.
var ErrInvalidExamDate = errors.New("invalid exam date")

// CheckExamDate validates a manual exam date before it is accepted.
func CheckExamDate(s string) error {
	if placeholderDate(s) {
		return nil
	}
	if _, ok := NormalizeDate(s); !ok {
		return fmt.Errorf("%w %q: use YYYY-MM-DD", ErrInvalidExamDate, strings.TrimSpace(s))
	}
	return nil
}

// ResolveExamDate applies manual override > extracted > absent. The result
// is empty when neither value is a real date.
func ResolveExamDate(manual, extracted string) string {
	if d, ok := NormalizeDate(manual); ok {
		return d
	}
	if d, ok := NormalizeDate(extracted); ok {
		return d
	}
	return ""
}

// FallbackTopics derives medium-importance topics from syllabus modules:
// each module's topics, or the module name when it lists none.
func FallbackTopics(modules []models.Module) []models.Topic {
	var out []models.Topic
	for _, m := range modules {
		for _, t := range m.Topics {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, models.Topic{Name: t, Importance: models.ImportanceMedium})
			}
		}
		if len(m.Topics) == 0 && strings.TrimSpace(m.Name) != "" {
			out = append(out, models.Topic{Name: strings.TrimSpace(m.Name), Importance: models.ImportanceMedium})
		}
	}
	return out
}

// MatchResource finds the mapping for topic. An exact case-insensitive match
// wins; otherwise the first mapping whose topic contains, or is contained in,
// the name matches. The substring rule is a deliberate heuristic and can
// pair short names with longer unrelated ones ("Algebra" matches "Linear
// Algebra").
func MatchResource(topic string, guide []models.ResourceMapping) (models.ResourceMapping, bool) {
	name := strings.ToLower(strings.TrimSpace(topic))
	if name == "" {
		return models.ResourceMapping{}, false
	}
	for _, g := range guide {
		if strings.ToLower(strings.TrimSpace(g.Topic)) == name {
			return g, true
		}
	}
	for _, g := range guide {
		other := strings.ToLower(strings.TrimSpace(g.Topic))
		if other == "" {
			continue
		}
		if strings.Contains(other, name) || strings.Contains(name, other) {
			return g, true
		}
	}
	return models.ResourceMapping{}, false
}

// Summarize compresses course results into the synthesis input. Topics
// without a mapping get the Textbook placeholder and the default hours.
func Summarize(results []models.CourseResult) []models.CourseSummary {
	out := make([]models.CourseSummary, 0, len(results))
	for _, r := range results {
		s := models.CourseSummary{Code: r.Course.Code, ExamDate: r.ExamDate, Topics: []models.TopicSummary{}}
		if s.ExamDate == "" {
			s.ExamDate = unknownExamDate
		}
		for _, t := range r.Scope.Topics {
			ts := models.TopicSummary{
				Topic:      t.Name,
				Importance: t.Importance,
				Resource:   models.ResourceTextbook,
				Hours:      models.DefaultTopicHours,
			}
			if ts.Importance == "" {
				ts.Importance = models.ImportanceMedium
			}
			if g, ok := MatchResource(t.Name, r.Guide); ok {
				ts.Resource = g.Resource
				if g.EstimatedHours > 0 {
					ts.Hours = g.EstimatedHours
				}
			}
			s.Topics = append(s.Topics, ts)
		}
		out = append(out, s)
	}
	return out
}

// AssignColors maps each course code to its display color.
func AssignColors(courses []models.Course) map[string]string {
	colors := make(map[string]string, len(courses))
	for i, c := range courses {
		colors[c.Code] = CourseColors[i%len(CourseColors)]
	}
	return colors
}

// ApplyColors sets the course color on tasks that do not carry one.
func ApplyColors(tasks []models.PlanTask, colors map[string]string) {
	for i := range tasks {
		if tasks[i].CourseColor != "" {
			continue
		}
		if c, ok := colors[tasks[i].Course]; ok {
			tasks[i].CourseColor = c
		} else {
			tasks[i].CourseColor = DefaultColor
		}
	}
}

// DeadlineViolations returns the tasks dated on or after their course's exam
// date. Courses without a resolved date are unrestricted.
func DeadlineViolations(tasks []models.PlanTask, examDates map[string]string) []models.PlanTask {
	var out []models.PlanTask
	for _, t := range tasks {
		exam, ok := examDates[t.Course]
		if !ok || exam == "" {
			continue
		}
		if t.Date >= exam {
			out = append(out, t)
		}
	}
	return out
}

// TopicPreview lists the first n topic names and how many were left out.
func TopicPreview(topics []models.Topic, n int) string {
	var names []string
	for i, t := range topics {
		if i == n {
			break
		}
		names = append(names, t.Name)
	}
	preview := strings.Join(names, ", ")
	if len(topics) > n {
		preview += fmt.Sprintf(" (+%d more)", len(topics)-n)
	}
	return preview
}

// topicNames returns the names of topics in order.
func topicNames(topics []models.Topic) []string {
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Name)
	}
	return names
}

// studyDays counts the distinct dates in tasks.
func studyDays(tasks []models.PlanTask) int {
	days := make(map[string]struct{})
	for _, t := range tasks {
		days[t.Date] = struct{}{}
	}
	return len(days)
}

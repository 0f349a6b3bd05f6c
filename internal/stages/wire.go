package stages

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/joescharf/prepx/internal/normalize"
)

// Wire types mirror what models return. Each field tolerates the common
// variations (numbers as strings, topics as strings or objects) so one odd
// field does not discard the whole response.

type syllabusWire struct {
	CourseName  normalize.Text   `json:"course_name"`
	CourseCode  normalize.Text   `json:"course_code"`
	Modules     []moduleWire     `json:"modules"`
	Assessments []assessmentWire `json:"assessments"`
}

type moduleWire struct {
	Name   normalize.Text `json:"name"`
	Topics []topicName    `json:"topics"`
	Week   normalize.Int  `json:"week"`
}

type assessmentWire struct {
	Type   normalize.Text `json:"type"`
	Weight normalize.Text `json:"weight"`
	Date   normalize.Text `json:"date"`
}

type scopeWire struct {
	ExamDate normalize.Text `json:"exam_date"`
	Topics   []topicWire    `json:"topics"`
}

type sectionWire struct {
	Chapter      normalize.Text `json:"chapter"`
	StartPage    normalize.Int  `json:"start_page"`
	EndPage      normalize.Int  `json:"end_page"`
	CoversTopics []topicName    `json:"covers_topics"`
}

type mappingWire struct {
	Topic          normalize.Text  `json:"topic"`
	Resource       normalize.Text  `json:"resource"`
	EstimatedHours normalize.Float `json:"estimated_hours"`
}

type taskWire struct {
	Date          normalize.Text  `json:"date"`
	Course        normalize.Text  `json:"course"`
	Topic         normalize.Text  `json:"topic"`
	TaskType      normalize.Text  `json:"task_type"`
	DurationHours normalize.Float `json:"duration_hours"`
	Resources     normalize.Text  `json:"resources"`
	Notes         notesText       `json:"notes"`
	CourseColor   normalize.Text  `json:"courseColor"`
}

// topicName decodes "Topic" or {"name": "Topic"}.
type topicName string

func (t *topicName) UnmarshalJSON(b []byte) error {
	r := gjson.ParseBytes(b)
	if r.IsObject() {
		*t = topicName(firstString(r, "name", "topic", "title"))
		return nil
	}
	var s normalize.Text
	_ = s.UnmarshalJSON(b)
	*t = topicName(strings.TrimSpace(string(s)))
	return nil
}

// topicWire decodes "Topic" or {"name": "Topic", "importance": "high"}.
type topicWire struct {
	Name       string
	Importance string
}

func (t *topicWire) UnmarshalJSON(b []byte) error {
	r := gjson.ParseBytes(b)
	if r.IsObject() {
		t.Name = firstString(r, "name", "topic", "title")
		t.Importance = r.Get("importance").String()
		return nil
	}
	var n topicName
	_ = n.UnmarshalJSON(b)
	t.Name = string(n)
	return nil
}

// notesText decodes a notes string, or an object of labelled parts which is
// flattened into the "Focus: ... | Practice: ..." form.
type notesText string

var noteLabels = []struct{ key, label string }{
	{"focus", "Focus"},
	{"practice", "Practice"},
	{"memorize", "Memorize"},
	{"self_test", "Self-Test"},
	{"self-test", "Self-Test"},
	{"selfTest", "Self-Test"},
}

func (n *notesText) UnmarshalJSON(b []byte) error {
	r := gjson.ParseBytes(b)
	if !r.IsObject() {
		var s normalize.Text
		_ = s.UnmarshalJSON(b)
		*n = notesText(s)
		return nil
	}
	var parts []string
	for _, l := range noteLabels {
		if v := r.Get(gjson.Escape(l.key)); v.Exists() && v.String() != "" {
			parts = append(parts, l.label+": "+v.String())
		}
	}
	*n = notesText(strings.Join(parts, " | "))
	return nil
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.String() != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

// decodeObject unmarshals raw into v after wrapping a bare array under
// listKey.
func decodeObject(raw json.RawMessage, listKey string, v any) error {
	obj, err := normalize.AsObject(raw, listKey)
	if err != nil {
		return err
	}
	return json.Unmarshal(obj, v)
}

package models

import "strings"

// Course is one course submitted with a plan request. ExamDate is an optional
// manual override and takes precedence over any date extracted later.
type Course struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	ExamDate string `json:"examDate"`
}

// Constraints are the student's scheduling limits, passed through to the
// synthesis stage.
type Constraints struct {
	WeekdayHours    float64  `json:"weekdayHours" yaml:"weekday_hours"`
	WeekendHours    float64  `json:"weekendHours" yaml:"weekend_hours"`
	NoStudyDates    []string `json:"noStudyDates" yaml:"no_study_dates"`
	ReviewFrequency string   `json:"reviewFrequency" yaml:"review_frequency"`
}

// PlanRequest is the body of a plan submission.
type PlanRequest struct {
	SessionID   string      `json:"sessionId"`
	Courses     []Course    `json:"courses"`
	Constraints Constraints `json:"constraints"`
}

// Importance ranks how likely a topic is to be examined.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// ParseImportance maps free-form model output onto an Importance, defaulting
// to medium.
func ParseImportance(s string) Importance {
	switch Importance(strings.ToLower(strings.TrimSpace(s))) {
	case ImportanceHigh:
		return ImportanceHigh
	case ImportanceLow:
		return ImportanceLow
	default:
		return ImportanceMedium
	}
}

// Module is one unit of a syllabus.
type Module struct {
	Name   string   `json:"name"`
	Topics []string `json:"topics"`
	Week   int      `json:"week,omitempty"`
}

// Assessment is a graded item listed in a syllabus.
type Assessment struct {
	Type   string `json:"type"`
	Weight string `json:"weight"`
	Date   string `json:"date"`
}

// SyllabusInfo is the normalized output of syllabus analysis.
type SyllabusInfo struct {
	CourseName  string       `json:"course_name"`
	CourseCode  string       `json:"course_code"`
	Modules     []Module     `json:"modules"`
	Assessments []Assessment `json:"assessments"`
}

// Topic is one examinable topic.
type Topic struct {
	Name       string     `json:"name"`
	Importance Importance `json:"importance"`
}

// ExamScope is the normalized output of exam-scope analysis. ExamDate is the
// extracted candidate and may be empty.
type ExamScope struct {
	ExamDate string  `json:"exam_date"`
	Topics   []Topic `json:"topics"`
}

// Section is a textbook chapter localized from the table of contents.
type Section struct {
	Chapter      string   `json:"chapter"`
	StartPage    int      `json:"start_page"`
	EndPage      int      `json:"end_page"`
	CoversTopics []string `json:"covers_topics,omitempty"`
}

// ResourceMapping ties a topic to a textbook reference and an hour estimate.
type ResourceMapping struct {
	Topic          string  `json:"topic"`
	Resource       string  `json:"resource"`
	EstimatedHours float64 `json:"estimated_hours"`
}

// CourseResult accumulates every stage output for one course.
type CourseResult struct {
	Course   Course            `json:"course"`
	Syllabus SyllabusInfo      `json:"syllabus"`
	Scope    ExamScope         `json:"scope"`
	Guide    []ResourceMapping `json:"guide"`
	// ExamDate is the resolved date: manual override, else extracted, else empty.
	ExamDate string `json:"exam_date"`
}

// TotalHours sums the estimated hours of the course's resource mappings.
func (r *CourseResult) TotalHours() float64 {
	var total float64
	for _, g := range r.Guide {
		total += g.EstimatedHours
	}
	return total
}

// TopicSummary is one topic in the compressed synthesis input.
type TopicSummary struct {
	Topic      string     `json:"topic"`
	Importance Importance `json:"importance"`
	Resource   string     `json:"resource"`
	Hours      float64    `json:"hours"`
}

// CourseSummary is the compressed per-course record sent to schedule synthesis.
type CourseSummary struct {
	Code     string         `json:"code"`
	ExamDate string         `json:"exam_date"`
	Topics   []TopicSummary `json:"topics"`
}

const (
	// ResourceTextbook is the placeholder resource for a topic with no mapping.
	ResourceTextbook = "Textbook"
	// ResourceUnidentified marks topics whose textbook chapters could not be
	// localized.
	ResourceUnidentified = "Unidentified"
	// DefaultTopicHours is the estimate used when no mapping supplies one.
	DefaultTopicHours = 2.0
)

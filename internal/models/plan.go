package models

import "strings"

// TaskType is the kind of study session.
type TaskType string

const (
	TaskTypeLearn    TaskType = "learn"
	TaskTypePractice TaskType = "practice"
	TaskTypeReview   TaskType = "review"
)

// PlanTask is one scheduled study session in the final plan.
type PlanTask struct {
	Date          string   `json:"date"`
	Course        string   `json:"course"`
	Topic         string   `json:"topic"`
	TaskType      TaskType `json:"task_type"`
	DurationHours float64  `json:"duration_hours"`
	Resources     string   `json:"resources"`
	Notes         string   `json:"notes"`
	CourseColor   string   `json:"courseColor,omitempty"`
}

// Notes is the structured form of a task's notes string,
// "Focus: ... | Practice: ... | Memorize: ... | Self-Test: ...".
type Notes struct {
	Focus    string `json:"focus,omitempty"`
	Practice string `json:"practice,omitempty"`
	Memorize string `json:"memorize,omitempty"`
	SelfTest string `json:"self_test,omitempty"`
	// Other holds segments without a recognized label.
	Other []string `json:"other,omitempty"`
}

// ParseNotes splits a notes string into its labelled parts. Labels are
// matched case-insensitively.
func ParseNotes(s string) Notes {
	var n Notes
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		label, body, ok := strings.Cut(part, ":")
		if !ok {
			n.Other = append(n.Other, part)
			continue
		}
		body = strings.TrimSpace(body)
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "focus":
			n.Focus = body
		case "practice":
			n.Practice = body
		case "memorize", "memorise":
			n.Memorize = body
		case "self-test", "self test", "selftest":
			n.SelfTest = body
		default:
			n.Other = append(n.Other, part)
		}
	}
	return n
}

// PlanOutcome is what a completed job produces: the schedule plus the codes of
// courses whose analysis failed and were left out of it.
type PlanOutcome struct {
	Tasks         []PlanTask `json:"tasks"`
	FailedCourses []string   `json:"failed_courses,omitempty"`
}

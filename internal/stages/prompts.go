package stages

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joescharf/prepx/internal/models"
)

const systemPrompt = `You are one stage of a study-planning pipeline. Reply with a single JSON value and nothing else.`

const dateLayout = "2006-01-02"

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func buildSyllabusPrompt(text string, maxModules, maxTopics int) string {
	return fmt.Sprintf(`Analyze this syllabus. Extract ONLY:
1. Course name and code
2. Up to %d modules (max %d topics each)
3. Exam dates and weights

Return JSON:
{
    "course_name": "...",
    "course_code": "...",
    "modules": [{"name": "...", "topics": ["t1", "t2"], "week": 1}],
    "assessments": [{"type": "midterm", "weight": "30%%", "date": "YYYY-MM-DD"}]
}

Be concise.

SYLLABUS:
%s`, maxModules, maxTopics, text)
}

func buildScopePrompt(text string, maxTopics int) string {
	return fmt.Sprintf(`Analyze this exam guide. Extract ONLY:
1. Exam date
2. Topics (max %d), each with importance (high/medium/low)

Return JSON:
{
    "exam_date": "YYYY-MM-DD",
    "topics": [{"name": "Topic", "importance": "high"}]
}

Use "unknown" for the exam date if the guide does not state one. Be concise.

EXAM GUIDE:
%s`, maxTopics, text)
}

func buildTocPrompt(totalPages int, topics []string, toc string) string {
	return fmt.Sprintf(`Table of contents of a %d-page textbook.

EXAM TOPICS: %s

Identify chapters/page ranges for these topics ONLY.

Return JSON:
{
    "relevant_sections": [
        {"chapter": "Ch 3: Probability", "start_page": 45, "end_page": 78, "covers_topics": ["Topic A"]}
    ]
}

TOC:
%s`, totalPages, mustJSON(topics), toc)
}

func buildMappingPrompt(topics []string, sections []models.Section, sample string) string {
	var chapters []string
	for _, s := range sections {
		chapters = append(chapters, fmt.Sprintf("%s (pp. %d-%d)", s.Chapter, s.StartPage, s.EndPage))
	}
	return fmt.Sprintf(`Map exam topics to textbook resources.

TOPICS: %s

CHAPTERS: %s

Every resource must name a specific chapter or section with page numbers, never a generic placeholder.

Return ONLY:
[
    {"topic": "...", "resource": "Ch 3.2-3.4 (pp. 45-67)", "estimated_hours": 2.0}
]

TEXT:
%s`, mustJSON(topics), strings.Join(chapters, "; "), sample)
}

func buildPlanPrompt(summaries []models.CourseSummary, c models.Constraints, today time.Time) string {
	weekday, weekend := c.WeekdayHours, c.WeekendHours
	if weekday <= 0 {
		weekday = 3
	}
	if weekend <= 0 {
		weekend = 6
	}
	noStudy := c.NoStudyDates
	if noStudy == nil {
		noStudy = []string{}
	}
	review := c.ReviewFrequency
	if review == "" {
		review = "weekly"
	}

	return fmt.Sprintf(`Create a comprehensive study schedule.

COURSES:
%s

CONSTRAINTS:
- Weekday hours: %g
- Weekend hours: %g
- No-study dates: %s
- Review frequency: %s
- Today: %s. Start: %s.
- Last study day = 1 day before exam. Never schedule a course on or after its exam_date; an "unknown" or empty exam_date sets no limit.

RULES:
- Don't exceed daily hour budget
- Prioritize high-importance topics
- Schedule "learn" before "practice" for each topic
- Include "review" sessions before exams
- SPREAD TASKS EVENLY until the exam date. Do NOT bunch them all at the start.
- Include REST DAYS if the schedule allows (e.g. 1 rest day every 4-6 days) to prevent burnout.
- If finding the schedule too compressed, reduce daily hours or prioritize ONLY high/medium topics.

NOTES FORMAT for each task - be specific and actionable:
- Focus: What core concepts to understand deeply (be specific to the topic)
- Practice: Specific problem types or exercises to work through
- Memorize: Key formulas, definitions, or facts to commit to memory
- Self-Test: How to verify understanding (explain to someone, solve without notes, etc.)

Return JSON array:
[
    {
        "date": "YYYY-MM-DD",
        "course": "CODE",
        "topic": "Topic Name",
        "task_type": "learn",
        "duration_hours": 2,
        "resources": "Chapter X, Section Y (pp. Z)",
        "notes": "Focus: [specific concept explanation] | Practice: [specific problem types] | Memorize: [specific formulas/definitions] | Self-Test: [specific verification method]"
    }
]

Make the notes genuinely helpful for studying, not generic placeholders.`,
		mustJSON(summaries), weekday, weekend, mustJSON(noStudy), review,
		today.Format(dateLayout), today.AddDate(0, 0, 1).Format(dateLayout))
}

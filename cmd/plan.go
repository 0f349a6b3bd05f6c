package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/prepx/internal/docs"
	"github.com/joescharf/prepx/internal/events"
	"github.com/joescharf/prepx/internal/models"
	"github.com/joescharf/prepx/internal/pipeline"
	"github.com/joescharf/prepx/internal/sessions"
)

var (
	planDir          string
	planCourses      []string
	planConstraints  string
	planWeekdayHours float64
	planWeekendHours float64
	planNoStudy      []string
	planReview       string
	planJSON         bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build a study plan locally from a directory of course documents",
	Long: `Build a study plan without a server. Documents are read from

  <dir>/<course>/syllabus/*
  <dir>/<course>/midterm_overview/*
  <dir>/<course>/textbook/*

Courses are given as --course CODE or --course CODE:YYYY-MM-DD to override
the exam date. When no --course is given, every subdirectory of <dir> is a
course. Constraints come from a YAML file and/or flags; flags win.`,
	Example: `  prepx plan --dir ./spring --course CS101:2025-05-12 --course MA201
  prepx plan --dir ./spring --constraints limits.yaml --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return planRun(cmd)
	},
}

func init() {
	planCmd.Flags().StringVarP(&planDir, "dir", "d", ".", "Directory holding <course>/<doc_type>/ folders")
	planCmd.Flags().StringArrayVarP(&planCourses, "course", "c", nil, "Course as CODE[:EXAM_DATE] (repeatable)")
	planCmd.Flags().StringVar(&planConstraints, "constraints", "", "YAML file with weekday_hours, weekend_hours, no_study_dates, review_frequency")
	planCmd.Flags().Float64Var(&planWeekdayHours, "weekday-hours", 0, "Study hours per weekday")
	planCmd.Flags().Float64Var(&planWeekendHours, "weekend-hours", 0, "Study hours per weekend day")
	planCmd.Flags().StringArrayVar(&planNoStudy, "no-study", nil, "Date with no study, YYYY-MM-DD (repeatable)")
	planCmd.Flags().StringVar(&planReview, "review", "", "Review frequency, e.g. weekly")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the plan as JSON instead of a table")
	rootCmd.AddCommand(planCmd)
}

// parseCourseFlag parses CODE or CODE:EXAM_DATE.
func parseCourseFlag(s string) (models.Course, error) {
	code, date, _ := strings.Cut(strings.TrimSpace(s), ":")
	code = strings.TrimSpace(code)
	if code == "" {
		return models.Course{}, fmt.Errorf("invalid course %q: missing code", s)
	}
	c := models.Course{ID: code, Code: code, Name: code}
	if date = strings.TrimSpace(date); date != "" {
		d, ok := pipeline.NormalizeDate(date)
		if !ok {
			return models.Course{}, fmt.Errorf("invalid exam date %q for %s", date, code)
		}
		c.ExamDate = d
	}
	return c, nil
}

// discoverCourses lists the course folders directly under dir.
func discoverCourses(dir string) ([]models.Course, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var out []models.Course
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, models.Course{ID: e.Name(), Code: e.Name(), Name: e.Name()})
	}
	return out, nil
}

// loadConstraints reads a YAML constraints file; an empty path yields zero values.
func loadConstraints(path string) (models.Constraints, error) {
	var c models.Constraints
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read constraints: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse constraints %s: %w", path, err)
	}
	return c, nil
}

// buildPlanRequest assembles the request from flags. The session id is the
// directory's base name so documents resolve as <parent>/<session>/<course>/<type>.
func buildPlanRequest(dir string) (models.PlanRequest, *docs.Storage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return models.PlanRequest{}, nil, err
	}
	req := models.PlanRequest{SessionID: filepath.Base(abs)}

	if len(planCourses) == 0 {
		if req.Courses, err = discoverCourses(abs); err != nil {
			return req, nil, err
		}
	}
	for _, s := range planCourses {
		c, err := parseCourseFlag(s)
		if err != nil {
			return req, nil, err
		}
		req.Courses = append(req.Courses, c)
	}
	if len(req.Courses) == 0 {
		return req, nil, fmt.Errorf("no courses: pass --course or add course folders under %s", abs)
	}

	if req.Constraints, err = loadConstraints(planConstraints); err != nil {
		return req, nil, err
	}
	if planWeekdayHours > 0 {
		req.Constraints.WeekdayHours = planWeekdayHours
	}
	if planWeekendHours > 0 {
		req.Constraints.WeekendHours = planWeekendHours
	}
	if len(planNoStudy) > 0 {
		req.Constraints.NoStudyDates = planNoStudy
	}
	if planReview != "" {
		req.Constraints.ReviewFrequency = planReview
	}
	return req, docs.NewStorage(filepath.Dir(abs)), nil
}

func planRun(cmd *cobra.Command) error {
	req, storage, err := buildPlanRequest(planDir)
	if err != nil {
		return err
	}
	if apiKey() == "" {
		return fmt.Errorf("no Anthropic API key: set anthropic.api_key or ANTHROPIC_API_KEY")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
	defer stop()

	// Diagnostics stay quiet unless --verbose; events are the user output.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if verbose {
		logger = newLogger()
	}
	planner := pipeline.NewOrchestrator(
		newExecutor(newAgent(), logger),
		pipeline.StorageSource{Storage: storage},
		logger,
	)
	res, err := runLocalPlan(ctx, sessions.NewRegistry(sessions.WithLogger(logger)), planner, req)
	if err != nil {
		return err
	}

	if planJSON {
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if len(res.FailedCourses) > 0 {
		ui.Warning("Left out of the plan: %s", strings.Join(res.FailedCourses, ", "))
	}
	return ui.Plan(res.Tasks)
}

// runLocalPlan submits req to reg, prints every event as it arrives, and
// returns the final result. Cancelling ctx cancels the job; events are still
// drained up to its terminal event.
func runLocalPlan(ctx context.Context, reg *sessions.Registry, planner *pipeline.Orchestrator, req models.PlanRequest) (sessions.Result, error) {
	sess := reg.GetOrCreate(req.SessionID)
	sub := sess.Hub().Subscribe()
	defer sub.Close()

	job, err := reg.Submit(req.SessionID, planner.Job(req))
	if err != nil {
		return sessions.Result{}, err
	}

	drain := context.Background()
	go func() {
		select {
		case <-ctx.Done():
			job.Cancel()
		case <-job.Done():
		}
	}()

	for {
		ev, err := sub.Next(drain, 0)
		if errors.Is(err, events.ErrClosed) {
			break
		}
		if err != nil {
			return sessions.Result{}, err
		}
		ui.Event(ev)
		if ev.Done {
			break
		}
	}

	if err := job.Wait(drain); err != nil {
		return sessions.Result{}, err
	}
	res := sess.Result()
	if res.Status == sessions.StatusFailed {
		return res, errors.New(res.Error)
	}
	return res, nil
}

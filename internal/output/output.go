package output

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/prepx/internal/events"
	"github.com/joescharf/prepx/internal/models"
)

// UI provides colored terminal output for the CLI.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	loadingPrefix = color.New(color.FgHiBlue).Sprint("…")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	faint         = color.New(color.Faint).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// TaskTypeColor returns the task type colored by kind.
func TaskTypeColor(t models.TaskType) string {
	s := string(t)
	switch t {
	case models.TaskTypeLearn:
		return cyan(s)
	case models.TaskTypePractice:
		return green(s)
	case models.TaskTypeReview:
		return yellow(s)
	default:
		return s
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

// Event prints one progress event. Loading events are only shown in verbose
// mode; warnings and errors go to ErrOut.
func (u *UI) Event(ev events.Event) {
	line := fmt.Sprintf("%s %s %s", faint(ev.Timestamp), cyan("["+ev.Agent+"]"), ev.Message)
	switch {
	case ev.Level == events.LevelWarning:
		fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, line)
	case ev.Status == events.StatusError:
		fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, line)
	case ev.Status == events.StatusLoading:
		if u.Verbose {
			fmt.Fprintf(u.Out, "%s %s\n", loadingPrefix, line)
		}
	default:
		fmt.Fprintf(u.Out, "%s %s\n", successPrefix, line)
	}
}

// Plan renders the schedule as a table followed by a one-line total.
func (u *UI) Plan(tasks []models.PlanTask) error {
	if len(tasks) == 0 {
		u.Warning("Plan has no study sessions.")
		return nil
	}
	table := u.Table([]string{"Date", "Course", "Type", "Hours", "Topic", "Resources"})
	var total float64
	days := make(map[string]struct{})
	for _, t := range tasks {
		total += t.DurationHours
		days[t.Date] = struct{}{}
		if err := table.Append([]string{
			t.Date,
			t.Course,
			TaskTypeColor(t.TaskType),
			strconv.FormatFloat(t.DurationHours, 'f', -1, 64),
			t.Topic,
			t.Resources,
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(u.Out, "\n%d sessions across %d days, %.1fh total\n", len(tasks), len(days), total)
	return nil
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

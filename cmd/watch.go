package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/prepx/internal/events"
	"github.com/joescharf/prepx/internal/sessions"
)

var (
	watchServer   string
	watchNoResult bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <session>",
	Short: "Follow a session's progress stream on a running server",
	Long: `Connect to a running 'prepx serve' and print the session's events as
they arrive, including everything already emitted. When the job finishes the
plan is fetched and printed as a table.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()
		return watchRun(ctx, http.DefaultClient, watchServer, args[0])
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchServer, "server", "s", "http://localhost:8000", "Base URL of the prepx server")
	watchCmd.Flags().BoolVar(&watchNoResult, "no-result", false, "Do not fetch and print the plan after the stream ends")
	rootCmd.AddCommand(watchCmd)
}

func watchRun(ctx context.Context, client *http.Client, server, session string) error {
	base := strings.TrimRight(server, "/") + "/api/plan/" + url.PathEscape(session)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", server, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: unexpected status %s", resp.Status)
	}

	done, err := readStream(resp.Body, ui.Event)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("stream closed before the job finished")
	}
	if watchNoResult {
		return nil
	}

	res, err := fetchStatus(ctx, client, base+"/status")
	if err != nil {
		return err
	}
	if res.Status == sessions.StatusFailed {
		return fmt.Errorf("plan failed: %s", res.Error)
	}
	if len(res.FailedCourses) > 0 {
		ui.Warning("Left out of the plan: %s", strings.Join(res.FailedCourses, ", "))
	}
	return ui.Plan(res.Tasks)
}

// readStream decodes SSE data frames into events, calling fn for each, and
// reports whether the terminal event was seen. Comment lines are keepalives.
func readStream(r io.Reader, fn func(events.Event)) (bool, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev events.Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return false, fmt.Errorf("decode event: %w", err)
			}
			data.Reset()
			fn(ev)
			if ev.Done {
				return true, nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return false, sc.Err()
}

func fetchStatus(ctx context.Context, client *http.Client, u string) (sessions.Result, error) {
	var res sessions.Result
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return res, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return res, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("status: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("decode status: %w", err)
	}
	return res, nil
}

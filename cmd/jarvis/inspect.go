package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/server"
	"github.com/jllopis/jarvis/pkg/tracestore"
)

var (
	tracesLimit   int
	tracesSession string
	tracesIntent  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-agent statistics of a running server",
	Long: `Show the last latency, last status and runs today of every agent.

Examples:
  jarvis status
  jarvis status -o yaml --server http://jarvis.local:8080`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var tracesCmd = &cobra.Command{
	Use:   "traces [turn-id]",
	Short: "List recorded turns or show one",
	Long: `List the most recent turns, newest first, or show the trace of one turn.

Examples:
  jarvis traces --limit 5
  jarvis traces --intent weather_query
  jarvis traces turn-3f0c... -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTraces,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of a running server",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	tracesCmd.Flags().IntVar(&tracesLimit, "limit", 20, "maximum turns to list")
	tracesCmd.Flags().StringVar(&tracesSession, "session", "", "only turns of this session")
	tracesCmd.Flags().StringVar(&tracesIntent, "intent", "", "only turns with this intent")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	var statuses []core.AgentStatus
	if err := getJSON(cmd.Context(), "/api/v1/agents/status", &statuses); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), statuses, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "AGENT\tLAST STATUS\tLAST RUN (ms)\tRUNS TODAY")
		for _, s := range statuses {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.Name, s.LastStatus, s.LastRunMS, s.RunsToday)
		}
	})
}

func runTraces(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		var rec tracestore.Record
		if err := getJSON(cmd.Context(), "/api/v1/turns/"+url.PathEscape(args[0]), &rec); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), rec, func(w *tabwriter.Writer) {
			fmt.Fprintf(w, "TURN\t%s\nSESSION\t%s\nINTENT\t%s\nMODEL\t%s\nFALLBACK\t%t\n\n",
				rec.TurnID, rec.SessionID, rec.Intent, rec.Model, rec.Fallback)
			writeTrace(w, rec.Trace)
		})
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(tracesLimit))
	if tracesSession != "" {
		q.Set("session_id", tracesSession)
	}
	if tracesIntent != "" {
		q.Set("intent", tracesIntent)
	}
	var records []tracestore.Record
	if err := getJSON(cmd.Context(), "/api/v1/turns?"+q.Encode(), &records); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), records, func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "TURN\tSTARTED\tINTENT\tMODEL\tFALLBACK\tAGENTS")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
				rec.TurnID, rec.StartedAt.Local().Format(time.DateTime), rec.Intent, rec.Model, rec.Fallback, ran(rec.Trace))
		}
	})
}

func runHealth(cmd *cobra.Command, _ []string) error {
	var health server.HealthResponse
	if err := getJSON(cmd.Context(), "/health", &health); err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), health, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "STATUS\t%s\n", health.Status)
		for _, c := range health.Components {
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Component, c.Status, c.Message)
		}
	})
}

// ran lists the agents of a trace that were invoked.
func ran(trace []core.TraceEntry) string {
	names := make([]string, 0, len(trace))
	for _, step := range trace {
		if !step.Skipped {
			names = append(names, step.Agent)
		}
	}
	return strings.Join(names, ",")
}

func writeTrace(w io.Writer, trace []core.TraceEntry) {
	fmt.Fprintln(w, "AGENT\tSTATUS\tDURATION (ms)")
	for _, step := range trace {
		fmt.Fprintf(w, "%s\t%s\t%d\n", step.Agent, step.Status, step.DurationMS)
	}
}

// render writes v as JSON or YAML, or calls table for the default output.
func render(out io.Writer, v any, table func(w *tabwriter.Writer)) error {
	switch output {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		table(w)
		return w.Flush()
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", output)
	}
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	// /health answers 503 with a body worth showing.
	if resp.StatusCode != http.StatusOK && !(path == "/health" && resp.StatusCode == http.StatusServiceUnavailable) {
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

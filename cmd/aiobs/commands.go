package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cmcmaster1/ai-observability-tool/internal/config"
	"github.com/cmcmaster1/ai-observability-tool/internal/export"
	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

// --- init ---

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and apply schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(cfg config.Config, store *storage.Store) error {
			versions, err := store.AppliedMigrations()
			if err != nil {
				return err
			}
			printSuccess("Database ready in %s (schema version %d)", cfg.Storage.DataDir, len(versions))
			return nil
		})
	},
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		agent, _ := cmd.Flags().GetString("agent")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		f := storage.SessionFilter{
			Status:    storage.SessionStatus(status),
			AgentName: agent,
			Limit:     limit,
		}
		if f.Status != "" && !f.Status.Valid() {
			return fmt.Errorf("unknown status %q (want active, completed or error)", status)
		}

		return withStore(func(_ config.Config, store *storage.Store) error {
			sessions, err := store.ListSessions(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if sessions == nil {
					sessions = []storage.AgentSession{}
				}
				return writeJSON(out, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			header := []string{"ID", "AGENT", "STATUS", "STARTED", "DURATION"}
			for i, h := range header {
				header[i] = colorize(headerStyle, h)
			}
			fmt.Fprintln(w, strings.Join(header, "\t"))
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					colorize(idStyle, shortID(s.ID)),
					s.AgentName,
					statusText(string(s.Status)),
					colorize(dateStyle, s.StartTime.Local().Format("2006-01-02 15:04:05")),
					sessionDuration(s),
				)
			}
			return w.Flush()
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session with its messages, metrics and events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		return withStore(func(_ config.Config, store *storage.Store) error {
			bundles, err := export.Collect(store, export.Request{
				SessionIDs:      []string{args[0]},
				IncludeMessages: true,
				IncludeMetrics:  true,
				IncludeEvents:   true,
			})
			if err != nil {
				return err
			}
			b := bundles[0]
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, b)
			}

			sum, err := store.MetricsSummary(b.Session.ID)
			if err != nil {
				return err
			}

			s := b.Session
			fmt.Fprintln(out, colorize(headerStyle, s.AgentName))
			printStatus(out, "ID", "%s", s.ID)
			printStatus(out, "Status", "%s", statusText(string(s.Status)))
			printStatus(out, "Started", "%s", s.StartTime.Local().Format(time.RFC3339))
			if s.EndTime != nil {
				printStatus(out, "Ended", "%s (%s)", s.EndTime.Local().Format(time.RFC3339), sessionDuration(s))
			}
			if s.Summary != "" {
				printStatus(out, "Summary", "%s", s.Summary)
			}
			printStatus(out, "Requests", "%d (avg %.1f ms, %d in / %d out tokens)",
				sum.TotalRequests, sum.AvgResponseTimeMs, sum.TotalInputTokens, sum.TotalOutputTokens)

			if len(b.Messages) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, colorize(headerStyle, "Messages"))
				for _, m := range b.Messages {
					fmt.Fprintf(out, "%s [%s]\n", colorize(dateStyle, m.Timestamp.Local().Format("15:04:05")), m.Role)
					for _, line := range strings.Split(m.Content, "\n") {
						fmt.Fprintf(out, "    %s\n", line)
					}
				}
			}
			if len(b.Events) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, colorize(headerStyle, "Events"))
				printEvents(out, b.Events)
			}
			return nil
		})
	},
}

func init() {
	sessionsListCmd.Flags().String("status", "", "filter by status (active, completed, error)")
	sessionsListCmd.Flags().String("agent", "", "filter by agent name")
	sessionsListCmd.Flags().Int("limit", 20, "maximum number of sessions to list")
	sessionsListCmd.Flags().Bool("json", false, "print JSON")
	sessionsShowCmd.Flags().Bool("json", false, "print JSON")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}

// --- events ---

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List system events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		severity, _ := cmd.Flags().GetString("severity")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		f := storage.EventFilter{
			SessionID: sessionID,
			Severity:  storage.Severity(severity),
			Limit:     limit,
		}
		if f.Severity != "" && !f.Severity.Valid() {
			return fmt.Errorf("unknown severity %q (want info, warning or error)", severity)
		}

		return withStore(func(_ config.Config, store *storage.Store) error {
			events, err := store.ListEvents(f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if events == nil {
					events = []storage.SystemEvent{}
				}
				return writeJSON(out, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No events found.")
				return nil
			}
			printEvents(out, events)
			return nil
		})
	},
}

func init() {
	eventsCmd.Flags().String("session", "", "only events of this session id")
	eventsCmd.Flags().String("severity", "", "filter by severity (info, warning, error)")
	eventsCmd.Flags().Int("limit", 50, "maximum number of events to list")
	eventsCmd.Flags().Bool("json", false, "print JSON")
}

func printEvents(w io.Writer, events []storage.SystemEvent) {
	for _, e := range events {
		fmt.Fprintf(w, "%s %-7s %s\n",
			colorize(dateStyle, e.Timestamp.Local().Format("2006-01-02 15:04:05")),
			statusText(string(e.Severity)),
			e.Message,
		)
	}
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session counts and request aggregates for a time window",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("window")
		asJSON, _ := cmd.Flags().GetBool("json")
		if window <= 0 {
			return fmt.Errorf("--window must be positive")
		}

		return withStore(func(_ config.Config, store *storage.Store) error {
			now := time.Now().UTC()
			st, err := store.Stats(now.Add(-window), now)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, st)
			}

			fmt.Fprintln(out, colorize(headerStyle, fmt.Sprintf("Last %s", window)))
			printStatus(out, "Active sessions", "%d", st.ActiveSessions)
			statuses := make([]string, 0, len(st.StatusCounts))
			for s := range st.StatusCounts {
				statuses = append(statuses, string(s))
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				printStatus(out, "Sessions "+s, "%d", st.StatusCounts[storage.SessionStatus(s)])
			}
			printStatus(out, "Requests", "%d", st.Requests)
			printStatus(out, "Avg response", "%.1f ms", st.AvgResponseTimeMs)
			printStatus(out, "Error rate", "%.1f%%", st.ErrorRate*100)
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().Duration("window", 24*time.Hour, "aggregation window")
	statsCmd.Flags().Bool("json", false, "print JSON")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions with their records",
	Long: `Export sessions with their messages, metrics and events.

Examples:
  aiobs export --format yaml --output sessions.yaml
  aiobs export --format jsonl --since 2025-03-01T00:00:00Z
  aiobs export --session 3f2a... --session 9c1b... --no-messages`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		ids, _ := cmd.Flags().GetStringSlice("session")
		noMessages, _ := cmd.Flags().GetBool("no-messages")
		noMetrics, _ := cmd.Flags().GetBool("no-metrics")
		noEvents, _ := cmd.Flags().GetBool("no-events")

		exp, err := export.NewExporter(format)
		if err != nil {
			return err
		}
		req := export.Request{
			SessionIDs:      ids,
			IncludeMessages: !noMessages,
			IncludeMetrics:  !noMetrics,
			IncludeEvents:   !noEvents,
		}
		if req.Since, err = timeFlag(cmd, "since"); err != nil {
			return err
		}
		if req.Until, err = timeFlag(cmd, "until"); err != nil {
			return err
		}

		return withStore(func(_ config.Config, store *storage.Store) error {
			bundles, err := export.Collect(store, req)
			if err != nil {
				return err
			}

			if output == "" {
				if err := exp.Export(bundles, cmd.OutOrStdout()); err != nil {
					return fmt.Errorf("exporting: %w", err)
				}
				return nil
			}
			if err := exportToFile(exp, bundles, output); err != nil {
				return err
			}
			printSuccess("Exported %d sessions to %s", len(bundles), output)
			return nil
		})
	},
}

var createOutput = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// exportToFile writes bundles to path. The file's close error is returned so
// a short write is never reported as success.
func exportToFile(exp export.Exporter, bundles []export.Bundle, path string) error {
	f, err := createOutput(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	if err := exp.Export(bundles, f); err != nil {
		f.Close()
		return fmt.Errorf("exporting: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output file: %w", err)
	}
	return nil
}

func init() {
	exportCmd.Flags().String("format", "json", "output format ("+strings.Join(export.Formats, ", ")+")")
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
	exportCmd.Flags().StringSlice("session", nil, "session id to export (repeatable)")
	exportCmd.Flags().String("since", "", "only sessions started at or after this RFC 3339 time")
	exportCmd.Flags().String("until", "", "only sessions started before this RFC 3339 time")
	exportCmd.Flags().Bool("no-messages", false, "omit messages")
	exportCmd.Flags().Bool("no-metrics", false, "omit performance metrics")
	exportCmd.Flags().Bool("no-events", false, "omit system events")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s  %s\n", colorize(labelStyle, k.Key), k.Value, colorize(dateStyle, "("+k.EnvVar+")"))
		}
		fmt.Fprintf(out, "\n  file: %s\n", config.FilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

// --- helpers ---

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func timeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want RFC 3339", name, s)
	}
	return t, nil
}

func sessionDuration(s storage.AgentSession) string {
	if s.EndTime == nil {
		return "running"
	}
	return s.EndTime.Sub(s.StartTime).Round(time.Millisecond).String()
}

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cmcmaster1/ai-observability-tool/internal/export"
	"github.com/cmcmaster1/ai-observability-tool/internal/observer"
	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

// setupCLI points config and data at temp dirs and disables colour.
func setupCLI(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("AIOBS_STORAGE_DATA_DIR", dataDir)
	t.Setenv("AIOBS_SERVER_TOKEN", "")

	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
	return dataDir
}

// resetFlags restores every flag to its default so runs do not leak state.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRunCLI(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("aiobs %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestColorize_NoColor(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(successStyle, "hello"); got != "hello" {
		t.Errorf("colorize with noColor=true = %q, want plain text", got)
	}
	if got := statusText("completed"); got != "completed" {
		t.Errorf("statusText = %q", got)
	}
	if got := statusText("unknown"); got != "unknown" {
		t.Errorf("statusText for unknown status = %q", got)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID short = %q", got)
	}
}

func newDemoObserver(t *testing.T) (*observer.Observer, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return observer.New(store, observer.Options{}), store
}

func TestRunDemo_Success(t *testing.T) {
	obs, store := newDemoObserver(t)

	if err := runDemo(obs, "demo-crew", 0); err != nil {
		t.Fatalf("runDemo: %v", err)
	}

	id, ok := obs.SessionID("demo-crew")
	if !ok {
		t.Fatal("no session recorded")
	}
	sess, err := store.GetSession(id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", sess.Status)
	}

	msgs, err := store.ListMessages(id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != len(demoSteps) {
		t.Fatalf("messages = %d, want %d", len(msgs), len(demoSteps))
	}
	for _, raw := range []string{"123-45-6789", "03/14/1961", "(555) 123-4567", "jsmith@example.com", "John Smith"} {
		for _, m := range msgs {
			if strings.Contains(m.Content, raw) {
				t.Errorf("identifier %q persisted in %q", raw, m.Content)
			}
		}
	}
}

func TestRunDemo_FailingStep(t *testing.T) {
	obs, store := newDemoObserver(t)

	if err := runDemo(obs, "demo-crew", 2); err != nil {
		t.Fatalf("runDemo: %v", err)
	}
	id, _ := obs.SessionID("demo-crew")

	sess, err := store.GetSession(id)
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != storage.StatusError {
		t.Errorf("status = %q, want error", sess.Status)
	}

	events, err := store.ListEvents(storage.EventFilter{SessionID: id, Severity: storage.SeverityError})
	if err != nil {
		t.Fatal(err)
	}
	// The failed step and the failed completion.
	if len(events) != 2 {
		t.Fatalf("error events = %d, want 2", len(events))
	}
	for _, e := range events {
		if strings.Contains(e.Message, "987-65-4321") {
			t.Errorf("SSN persisted in %q", e.Message)
		}
	}
}

func TestCLI_DemoSessionsEventsStats(t *testing.T) {
	setupCLI(t)

	mustRunCLI(t, "init")
	mustRunCLI(t, "demo", "--crew", "cli-crew")

	out := mustRunCLI(t, "sessions", "list", "--json")
	var sessions []storage.AgentSession
	if err := json.Unmarshal([]byte(out), &sessions); err != nil {
		t.Fatalf("sessions list output: %v\n%s", err, out)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].AgentName != observer.SessionName("cli-crew") || sessions[0].Status != storage.StatusCompleted {
		t.Errorf("session = %+v", sessions[0])
	}
	id := sessions[0].ID

	out = mustRunCLI(t, "sessions", "list")
	if !strings.Contains(out, shortID(id)) || !strings.Contains(out, "completed") {
		t.Errorf("table output missing session:\n%s", out)
	}

	out = mustRunCLI(t, "sessions", "show", id)
	if !strings.Contains(out, "Messages") || !strings.Contains(out, "[SSN]") {
		t.Errorf("show output:\n%s", out)
	}

	out = mustRunCLI(t, "events", "--severity", "error", "--json")
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("error events = %s, want []", out)
	}

	out = mustRunCLI(t, "stats", "--json")
	var st storage.Stats
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("stats output: %v\n%s", err, out)
	}
	if st.Requests != len(demoSteps) {
		t.Errorf("requests = %d, want %d", st.Requests, len(demoSteps))
	}

	out = mustRunCLI(t, "stats")
	if !strings.Contains(out, "Requests:") {
		t.Errorf("stats output:\n%s", out)
	}
}

func TestCLI_Export(t *testing.T) {
	setupCLI(t)
	mustRunCLI(t, "demo")

	path := filepath.Join(t.TempDir(), "out.jsonl")
	mustRunCLI(t, "export", "--format", "jsonl", "--output", path, "--no-metrics")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	// session + 4 messages + start and completion events
	if len(lines) != 1+len(demoSteps)+2 {
		t.Errorf("lines = %d:\n%s", len(lines), data)
	}
	for _, l := range lines {
		if strings.Contains(l, `"kind":"`+export.KindMetrics+`"`) {
			t.Errorf("metrics exported despite --no-metrics: %s", l)
		}
	}

	if _, err := runCLI(t, "export", "--format", "pdf"); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := runCLI(t, "export", "--since", "last week"); err == nil {
		t.Error("expected error for invalid --since")
	}
}

type closeFailWriter struct {
	bytes.Buffer
	err error
}

func (w *closeFailWriter) Close() error { return w.err }

func TestExportToFile_CloseError(t *testing.T) {
	diskFull := errors.New("no space left on device")
	w := &closeFailWriter{err: diskFull}
	orig := createOutput
	createOutput = func(string) (io.WriteCloser, error) { return w, nil }
	t.Cleanup(func() { createOutput = orig })

	exp, err := export.NewExporter("json")
	if err != nil {
		t.Fatal(err)
	}
	err = exportToFile(exp, nil, "ignored.json")
	if !errors.Is(err, diskFull) {
		t.Fatalf("err = %v, want close error", err)
	}
	if !strings.Contains(err.Error(), "closing output file") {
		t.Errorf("err = %v", err)
	}
	if strings.TrimSpace(w.String()) != "[]" {
		t.Errorf("written = %q", w.String())
	}
}

func TestExportToFile_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	exp, err := export.NewExporter("csv")
	if err != nil {
		t.Fatal(err)
	}
	if err := exportToFile(exp, nil, path); err != nil {
		t.Fatalf("exportToFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "session_id,") {
		t.Errorf("csv = %q", data)
	}
}

func TestCLI_InvalidFilters(t *testing.T) {
	setupCLI(t)

	if _, err := runCLI(t, "sessions", "list", "--status", "paused"); err == nil {
		t.Error("expected error for unknown status")
	}
	if _, err := runCLI(t, "events", "--severity", "fatal"); err == nil {
		t.Error("expected error for unknown severity")
	}
	if _, err := runCLI(t, "sessions", "show", "missing-id"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestCLI_Config(t *testing.T) {
	setupCLI(t)

	mustRunCLI(t, "config", "set", "observer.project", "Ward 7")
	out := mustRunCLI(t, "config", "show")
	if !strings.Contains(out, "observer.project = Ward 7") {
		t.Errorf("config show output:\n%s", out)
	}

	mustRunCLI(t, "config", "unset", "observer.project")
	out = mustRunCLI(t, "config", "show")
	if strings.Contains(out, "Ward 7") {
		t.Errorf("value still shown after unset:\n%s", out)
	}

	if _, err := runCLI(t, "config", "set", "server.token", "x"); err == nil {
		t.Error("expected error setting a secret")
	}
}

package observer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cmcmaster1/ai-observability-tool/internal/sanitize"
	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

const (
	// Framework is recorded in every crew session's configuration.
	Framework = "CrewAI"

	DefaultProject          = "AI Agent Observability"
	DefaultMaxContentLength = 500

	taskDescriptionLength = 200
	errorMessageLength    = 200
	stackTraceLength      = 1000
)

// Store defines the storage operations the Observer needs.
// Implemented by storage.Store.
type Store interface {
	Update(fn func(tx *storage.Tx) error) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CrewState is the in-memory lifecycle state of a tracked crew.
type CrewState string

const (
	StateNotStarted CrewState = "not-started"
	StateRunning    CrewState = "running"
	StateFinished   CrewState = "finished"
	StateErrored    CrewState = "errored"
)

// Options configures an Observer. Zero values select defaults.
type Options struct {
	Project          string
	Sanitizer        *sanitize.Sanitizer
	Clock            Clock
	Logger           *slog.Logger
	MaxContentLength int // sanitized input/response/summary are cut to this many runes
}

// Observer records the lifecycle of crew runs in the store. Each crew name
// moves through not-started → running → {finished, errored}; a crew that
// reached a terminal state may be started again as a new session.
//
// All methods are safe for concurrent use. A call holds the Observer's lock
// for its whole duration, and its storage writes share one transaction.
type Observer struct {
	store      Store
	project    string
	san        *sanitize.Sanitizer
	clock      Clock
	logger     *slog.Logger
	maxContent int

	mu    sync.Mutex
	crews map[string]*crewRun
}

type crewRun struct {
	sessionID    string
	state        CrewState
	startedAt    time.Time
	endedAt      time.Time
	lastTS       time.Time
	interactions int
	inputTokens  int
	outputTokens int
	errors       int
}

// tick returns now clamped so timestamps within one session never go backwards.
func (r *crewRun) tick(now time.Time) time.Time {
	if now.Before(r.lastTS) {
		now = r.lastTS
	}
	r.lastTS = now
	return now
}

// CrewInfo is a snapshot of one tracked crew.
type CrewInfo struct {
	Name         string    `json:"name"`
	SessionID    string    `json:"session_id"`
	State        CrewState `json:"state"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitzero"`
	Interactions int       `json:"interactions"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Errors       int       `json:"errors"`
}

// New creates an Observer writing to store.
func New(store Store, opts Options) *Observer {
	o := &Observer{
		store:      store,
		project:    opts.Project,
		san:        opts.Sanitizer,
		clock:      opts.Clock,
		logger:     opts.Logger,
		maxContent: opts.MaxContentLength,
		crews:      make(map[string]*crewRun),
	}
	if o.project == "" {
		o.project = DefaultProject
	}
	if o.san == nil {
		o.san = sanitize.Default()
	}
	if o.clock == nil {
		o.clock = realClock{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.maxContent <= 0 {
		o.maxContent = DefaultMaxContentLength
	}
	return o
}

// StartCrewSession creates an active session for crew and returns its id.
// It fails with storage.ErrConflict while the crew is running.
func (o *Observer) StartCrewSession(crew string, agents, tasks []string, metadata map[string]any) (string, error) {
	if crew == "" {
		return "", errors.New("crew name is required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if run, ok := o.crews[crew]; ok && run.state == StateRunning {
		return "", fmt.Errorf("crew %q already running as session %s: %w", crew, run.sessionID, storage.ErrConflict)
	}

	now := o.clock.Now()
	run := &crewRun{
		sessionID: uuid.New().String(),
		state:     StateRunning,
		startedAt: now,
		lastTS:    now,
	}

	descriptions := make([]string, len(tasks))
	for i, t := range tasks {
		descriptions[i] = sanitize.Truncate(o.san.Sanitize(t), taskDescriptionLength)
	}

	md := o.san.SanitizeMetadata(metadata)
	if md == nil {
		md = make(map[string]any)
	}
	md["project"] = o.project
	md["agent_count"] = len(agents)
	md["task_count"] = len(tasks)
	md["agents"] = agents

	sess := storage.AgentSession{
		ID:        run.sessionID,
		AgentName: SessionName(crew),
		Status:    storage.StatusActive,
		StartTime: now,
		Configuration: map[string]any{
			"framework":         Framework,
			"agents":            agents,
			"task_descriptions": descriptions,
		},
		Metadata: md,
	}

	err := o.store.Update(func(tx *storage.Tx) error {
		if err := tx.CreateSession(sess); err != nil {
			return err
		}
		_, err := tx.AppendEvent(storage.SystemEvent{
			SessionID: run.sessionID,
			Severity:  storage.SeverityInfo,
			Message:   "Started CrewAI session: " + crew,
			Details:   map[string]any{"agents": agents, "tasks_count": len(tasks)},
			Timestamp: now,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("starting crew %q: %w", crew, err)
	}

	o.crews[crew] = run
	o.logger.Info("crew session started", "crew", crew, "session_id", run.sessionID, "agents", len(agents), "tasks", len(tasks))
	return run.sessionID, nil
}

// LogAgentInteraction records one agent step of a running crew: a message
// with the sanitized task, input and response, a metrics row, and refreshed
// session counters. It fails with storage.ErrNotFound, persisting nothing,
// when the crew is not running.
func (o *Observer) LogAgentInteraction(crew, agent, task, input, response string, executionTimeMs float64, tokenUsage map[string]int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.running(crew)
	if err != nil {
		return err
	}

	if executionTimeMs < 0 {
		executionTimeMs = 0
	}
	inTokens := max(tokenUsage["input"], 0)
	outTokens := max(tokenUsage["output"], 0)
	category := ClassifyTask(task)
	ts := run.tick(o.clock.Now())

	content := fmt.Sprintf("Task: %s\nInput: %s\nResponse: %s",
		sanitize.Truncate(o.san.Sanitize(task), taskDescriptionLength),
		o.clip(input),
		o.clip(response),
	)

	interactions := run.interactions + 1
	totalIn := run.inputTokens + inTokens
	totalOut := run.outputTokens + outTokens

	err = o.store.Update(func(tx *storage.Tx) error {
		_, err := tx.AppendMessage(storage.Message{
			SessionID: run.sessionID,
			Role:      storage.RoleAgent,
			Content:   content,
			Timestamp: ts,
			Metadata: map[string]any{
				"agent":             agent,
				"task_category":     string(category),
				"execution_time_ms": executionTimeMs,
			},
		})
		if err != nil {
			return err
		}

		_, err = tx.AppendMetrics(storage.PerformanceMetrics{
			SessionID:      run.sessionID,
			ResponseTimeMs: executionTimeMs,
			InputTokens:    inTokens,
			OutputTokens:   outTokens,
			SuccessRate:    1.0,
			Timestamp:      ts,
			ResourceUsage:  map[string]any{"agent": agent, "task_category": string(category)},
		})
		if err != nil {
			return err
		}

		sess, err := tx.GetSession(run.sessionID)
		if err != nil {
			return err
		}
		md := sess.Metadata
		if md == nil {
			md = make(map[string]any)
		}
		md["interaction_count"] = interactions
		md["input_tokens"] = totalIn
		md["output_tokens"] = totalOut
		return tx.UpdateSessionMetadata(run.sessionID, md)
	})
	if err != nil {
		return fmt.Errorf("logging interaction for crew %q: %w", crew, err)
	}

	run.interactions = interactions
	run.inputTokens = totalIn
	run.outputTokens = totalOut
	o.logger.Debug("agent interaction logged", "crew", crew, "agent", agent, "category", category, "execution_time_ms", executionTimeMs)
	return nil
}

// LogError records a sanitized error event for crew's most recent session, or
// an unattached event when the crew was never started. It never changes the
// crew's state.
func (o *Observer) LogError(crew, agent string, cause error, context map[string]any) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	text := "<nil>"
	errType := "<nil>"
	if cause != nil {
		text = sanitize.ErrorText(cause)
		errType = fmt.Sprintf("%T", cause)
	}

	now := o.clock.Now()
	var sessionID string
	run, ok := o.crews[crew]
	if ok {
		sessionID = run.sessionID
		now = run.tick(now)
	}

	details := map[string]any{
		"agent":      agent,
		"crew":       crew,
		"error_type": errType,
	}
	if ctx := o.san.SanitizeMetadata(context); len(ctx) > 0 {
		details["context"] = ctx
	}

	event := storage.SystemEvent{
		SessionID:  sessionID,
		Severity:   storage.SeverityError,
		Message:    fmt.Sprintf("Error in agent %s: %s", agent, sanitize.Truncate(o.san.Sanitize(text), errorMessageLength)),
		Details:    details,
		StackTrace: sanitize.Truncate(o.san.Sanitize(stackTrace(cause)), stackTraceLength),
		Timestamp:  now,
	}

	err := o.store.Update(func(tx *storage.Tx) error {
		_, err := tx.AppendEvent(event)
		return err
	})
	if err != nil {
		return fmt.Errorf("logging error for crew %q: %w", crew, err)
	}

	if ok {
		run.errors++
	}
	o.logger.Warn("agent error logged", "crew", crew, "agent", agent, "session_id", sessionID, "error_type", errType)
	return nil
}

// EndCrewSession finishes the running session of crew with status completed
// (success) or error. It fails with storage.ErrNotFound when the crew is not
// running.
func (o *Observer) EndCrewSession(crew string, success bool, summary string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.running(crew)
	if err != nil {
		return err
	}

	end := run.tick(o.clock.Now())
	status, severity, state := storage.StatusCompleted, storage.SeverityInfo, StateFinished
	message := "Completed CrewAI session: " + crew
	if !success {
		status, severity, state = storage.StatusError, storage.SeverityError, StateErrored
		message = "CrewAI session failed: " + crew
	}
	safeSummary := o.clip(summary)

	err = o.store.Update(func(tx *storage.Tx) error {
		if err := tx.FinishSession(run.sessionID, status, end, safeSummary); err != nil {
			return err
		}
		_, err := tx.AppendEvent(storage.SystemEvent{
			SessionID: run.sessionID,
			Severity:  severity,
			Message:   message,
			Details: map[string]any{
				"success":           success,
				"summary":           safeSummary,
				"interaction_count": run.interactions,
				"duration_ms":       float64(end.Sub(run.startedAt)) / float64(time.Millisecond),
			},
			Timestamp: end,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("ending crew %q: %w", crew, err)
	}

	run.state = state
	run.endedAt = end
	o.logger.Info("crew session ended", "crew", crew, "session_id", run.sessionID, "status", status, "interactions", run.interactions)
	return nil
}

// State returns the crew's lifecycle state; unknown crews are not-started.
func (o *Observer) State(crew string) CrewState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if run, ok := o.crews[crew]; ok {
		return run.state
	}
	return StateNotStarted
}

// SessionID returns the id of the crew's most recent session.
func (o *Observer) SessionID(crew string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if run, ok := o.crews[crew]; ok {
		return run.sessionID, true
	}
	return "", false
}

// Crews returns a snapshot of every tracked crew, sorted by name.
func (o *Observer) Crews() []CrewInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	infos := make([]CrewInfo, 0, len(o.crews))
	for name, run := range o.crews {
		infos = append(infos, CrewInfo{
			Name:         name,
			SessionID:    run.sessionID,
			State:        run.state,
			StartedAt:    run.startedAt,
			EndedAt:      run.endedAt,
			Interactions: run.interactions,
			InputTokens:  run.inputTokens,
			OutputTokens: run.outputTokens,
			Errors:       run.errors,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// ActiveCrews returns the names of running crews, sorted.
func (o *Observer) ActiveCrews() []string {
	var names []string
	for _, c := range o.Crews() {
		if c.State == StateRunning {
			names = append(names, c.Name)
		}
	}
	return names
}

// SessionName is the agent name stored for a crew's sessions.
func SessionName(crew string) string {
	return Framework + ": " + crew
}

// CrewFromSessionName reverses SessionName.
func CrewFromSessionName(name string) (string, bool) {
	return strings.CutPrefix(name, Framework+": ")
}

func (o *Observer) running(crew string) (*crewRun, error) {
	run, ok := o.crews[crew]
	if !ok || run.state != StateRunning {
		state := StateNotStarted
		if ok {
			state = run.state
		}
		return nil, fmt.Errorf("crew %q is %s: %w", crew, state, storage.ErrNotFound)
	}
	return run, nil
}

func (o *Observer) clip(s string) string {
	return sanitize.Truncate(o.san.Sanitize(s), o.maxContent)
}

// stackTracer is implemented by errors that carry their own trace, such as
// the ones MonitorTask builds from panics.
type stackTracer interface {
	StackTrace() string
}

// stackTrace renders err's trace if it has one, otherwise its wrap chain,
// one error per line. A chain whose methods panic renders as empty.
func stackTrace(err error) (trace string) {
	if err == nil {
		return ""
	}
	defer func() {
		if recover() != nil {
			trace = ""
		}
	}()
	var st stackTracer
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("%T: %s", e, sanitize.ErrorText(e)))
	}
	return strings.Join(lines, "\n")
}

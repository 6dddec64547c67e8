package observer

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

// TaskScope is handed to the function run by MonitorTask.
type TaskScope struct {
	Crew  string
	Agent string
	Task  string

	recorded bool
	input    string
	response string
	tokens   map[string]int
}

// Record attaches the task's input, response and token usage. When called,
// a successful task is logged as a full agent interaction.
func (s *TaskScope) Record(input, response string, tokenUsage map[string]int) {
	s.recorded = true
	s.input = input
	s.response = response
	s.tokens = tokenUsage
}

// PanicError wraps a value recovered from a panic inside MonitorTask.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) StackTrace() string {
	return string(e.Stack)
}

// MonitorTask runs fn for one task of a crew and records its outcome.
//
// When fn succeeds, the task is logged as an agent interaction if the scope
// was recorded, otherwise as an info event carrying the duration; a failure
// to log is returned. When fn returns an error, the error is logged with
// LogError and then returned unchanged. When fn panics, the panic is logged
// the same way and fn's panic value is re-raised. Logging failures on these
// two paths are reported through the Observer's logger only.
func (o *Observer) MonitorTask(crew, agent, task string, fn func(*TaskScope) error) error {
	scope := &TaskScope{Crew: crew, Agent: agent, Task: task}
	start := o.clock.Now()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr := &PanicError{Value: r, Stack: debug.Stack()}
		o.logTaskFailure(scope, perr, start)
		panic(r)
	}()

	if err := fn(scope); err != nil {
		o.logTaskFailure(scope, err, start)
		return err
	}

	elapsed := o.elapsedMs(start)
	if scope.recorded {
		return o.LogAgentInteraction(crew, agent, task, scope.input, scope.response, elapsed, scope.tokens)
	}
	return o.logTaskCompleted(scope, elapsed)
}

func (o *Observer) logTaskFailure(scope *TaskScope, cause error, start time.Time) {
	elapsed := o.elapsedMs(start)
	context := map[string]any{
		"execution_time_ms": elapsed,
		"task_category":     string(ClassifyTask(scope.Task)),
	}
	if err := o.LogError(scope.Crew, scope.Agent, cause, context); err != nil {
		o.logger.Error("failed to record task error", "crew", scope.Crew, "agent", scope.Agent, "error", err)
	}
}

func (o *Observer) logTaskCompleted(scope *TaskScope, elapsed float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.running(scope.Crew)
	if err != nil {
		return err
	}
	ts := run.tick(o.clock.Now())

	err = o.store.Update(func(tx *storage.Tx) error {
		_, err := tx.AppendEvent(storage.SystemEvent{
			SessionID: run.sessionID,
			Severity:  storage.SeverityInfo,
			Message:   fmt.Sprintf("Task completed by agent %s", scope.Agent),
			Details: map[string]any{
				"agent":             scope.Agent,
				"task_category":     string(ClassifyTask(scope.Task)),
				"execution_time_ms": elapsed,
			},
			Timestamp: ts,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("logging task completion for crew %q: %w", scope.Crew, err)
	}
	return nil
}

func (o *Observer) elapsedMs(start time.Time) float64 {
	d := o.clock.Now().Sub(start)
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

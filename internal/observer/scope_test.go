package observer

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

type taskError struct{ code int }

func (e *taskError) Error() string { return "task failed for jane@example.com" }

func TestMonitorTask_ErrorPassthrough(t *testing.T) {
	o, store := newTestObserver(t)
	id, err := o.StartCrewSession("c1", []string{"a1"}, []string{"t1"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	original := &taskError{code: 7}
	got := o.MonitorTask("c1", "a1", "Extract vitals", func(*TaskScope) error {
		return original
	})
	if got != original {
		t.Fatalf("MonitorTask returned %v (%T), want the original error value", got, got)
	}
	var te *taskError
	if !errors.As(got, &te) || te.code != 7 {
		t.Errorf("errors.As lost the original type: %v", got)
	}

	events, err := store.ListEvents(storage.EventFilter{SessionID: id, Severity: storage.SeverityError})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("error events = %d, want 1", len(events))
	}
	if strings.Contains(events[0].Message, "jane@example.com") || !strings.Contains(events[0].Message, "[EMAIL]") {
		t.Errorf("event message not sanitized: %q", events[0].Message)
	}
	ctx, _ := events[0].Details["context"].(map[string]any)
	if _, ok := ctx["execution_time_ms"]; !ok {
		t.Errorf("context missing execution_time_ms: %v", events[0].Details)
	}
	if ctx["task_category"] != string(CategoryExtraction) {
		t.Errorf("task_category = %v", ctx["task_category"])
	}
	if o.State("c1") != StateRunning {
		t.Errorf("state = %s, want running", o.State("c1"))
	}
}

type stepError struct{ step string }

func (e *stepError) Error() string { return "step " + e.step + " failed" }

func TestMonitorTask_TypedNilErrorPassthrough(t *testing.T) {
	o, store := newTestObserver(t)
	id, err := o.StartCrewSession("c1", []string{"a1"}, []string{"t1"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var typedNil *stepError
	got := o.MonitorTask("c1", "a1", "t1", func(*TaskScope) error {
		return typedNil
	})
	if got == nil {
		t.Fatal("MonitorTask returned nil, want the typed-nil error")
	}
	if se, ok := got.(*stepError); !ok || se != nil {
		t.Fatalf("MonitorTask returned %#v, want the original typed-nil value", got)
	}

	events, err := store.ListEvents(storage.EventFilter{SessionID: id, Severity: storage.SeverityError})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("error events = %d, want 1", len(events))
	}
	if events[0].Message != "Error in agent a1: <nil>" {
		t.Errorf("message = %q", events[0].Message)
	}
	if events[0].Details["error_type"] != "*observer.stepError" {
		t.Errorf("error_type = %v", events[0].Details["error_type"])
	}
}

func TestMonitorTask_ErrorPassthroughWhenLoggingFails(t *testing.T) {
	boom := errors.New("db down")
	o := New(failingStore{err: boom}, Options{})

	original := errors.New("task failed")
	if got := o.MonitorTask("c1", "a1", "t1", func(*TaskScope) error { return original }); got != original {
		t.Errorf("MonitorTask returned %v, want original error", got)
	}
}

func TestMonitorTask_SuccessWithRecord(t *testing.T) {
	clock := newStepClock(250 * time.Millisecond)
	store := openTestStore(t)
	o := New(store, Options{Clock: clock})
	id, err := o.StartCrewSession("c1", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	err = o.MonitorTask("c1", "a1", "Summarize visit", func(s *TaskScope) error {
		s.Record("notes for DOB 01/15/2024", "summary ok", map[string]int{"input": 30, "output": 12})
		return nil
	})
	if err != nil {
		t.Fatalf("MonitorTask: %v", err)
	}

	msgs, _ := store.ListMessages(id, 0)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if strings.Contains(msgs[0].Content, "01/15/2024") {
		t.Errorf("content leaked date: %q", msgs[0].Content)
	}
	metrics, _ := store.ListMetrics(id, 0)
	if len(metrics) != 1 {
		t.Fatalf("metrics = %d, want 1", len(metrics))
	}
	if metrics[0].ResponseTimeMs != 250 {
		t.Errorf("ResponseTimeMs = %v, want 250", metrics[0].ResponseTimeMs)
	}
	if metrics[0].InputTokens != 30 || metrics[0].OutputTokens != 12 {
		t.Errorf("tokens = %d/%d", metrics[0].InputTokens, metrics[0].OutputTokens)
	}
}

func TestMonitorTask_SuccessWithoutRecord(t *testing.T) {
	o, store := newTestObserver(t)
	id, err := o.StartCrewSession("c1", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := o.MonitorTask("c1", "a1", "t1", func(*TaskScope) error { return nil }); err != nil {
		t.Fatalf("MonitorTask: %v", err)
	}

	events, _ := store.ListEvents(storage.EventFilter{SessionID: id, Severity: storage.SeverityInfo})
	found := false
	for _, e := range events {
		if e.Message == "Task completed by agent a1" {
			found = true
			if _, ok := e.Details["execution_time_ms"]; !ok {
				t.Errorf("completion event missing duration: %v", e.Details)
			}
		}
	}
	if !found {
		t.Errorf("no completion event among %+v", events)
	}
	if n := countRows(t, store, "messages"); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

func TestMonitorTask_SuccessForStoppedCrewReportsNotFound(t *testing.T) {
	o, _ := newTestObserver(t)
	err := o.MonitorTask("ghost", "a1", "t1", func(*TaskScope) error { return nil })
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMonitorTask_PanicReraised(t *testing.T) {
	o, store := newTestObserver(t)
	id, err := o.StartCrewSession("c1", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	type sentinel struct{ msg string }
	value := sentinel{msg: "exploded on 555-123-4567"}

	func() {
		defer func() {
			r := recover()
			if r != value {
				t.Errorf("recovered %v, want original panic value", r)
			}
		}()
		_ = o.MonitorTask("c1", "a1", "t1", func(*TaskScope) error {
			panic(value)
		})
		t.Error("MonitorTask returned instead of panicking")
	}()

	events, _ := store.ListEvents(storage.EventFilter{SessionID: id, Severity: storage.SeverityError})
	if len(events) != 1 {
		t.Fatalf("error events = %d, want 1", len(events))
	}
	if strings.Contains(events[0].Message, "555-123-4567") {
		t.Errorf("panic message not sanitized: %q", events[0].Message)
	}
	if events[0].Details["error_type"] != "*observer.PanicError" {
		t.Errorf("error_type = %v", events[0].Details["error_type"])
	}
	if events[0].StackTrace == "" {
		t.Error("expected a stack trace for a panic")
	}
}

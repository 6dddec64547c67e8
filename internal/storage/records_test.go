package storage

import (
	"errors"
	"testing"
	"time"
)

func TestAppendAndListMessages(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mustCreateSession(t, s, "s1", base)

	for i, content := range []string{"first", "second", "third"} {
		_, err := s.AppendMessage(Message{
			SessionID: "s1",
			Role:      RoleAgent,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Metadata:  map[string]any{"agent": "reader"},
		})
		if err != nil {
			t.Fatalf("AppendMessage(%s): %v", content, err)
		}
	}

	msgs, err := s.ListMessages("s1", 0)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[2].Content != "third" {
		t.Errorf("order = %q..%q, want oldest first", msgs[0].Content, msgs[2].Content)
	}
	if msgs[0].ID == "" {
		t.Error("expected generated message id")
	}
	if msgs[1].Metadata["agent"] != "reader" {
		t.Errorf("Metadata = %v", msgs[1].Metadata)
	}

	limited, err := s.ListMessages("s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d", len(limited))
	}
}

func TestAppend_DanglingSession(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.AppendMessage(Message{SessionID: "ghost", Role: RoleAgent, Content: "x"}); !errors.Is(err, ErrReference) {
		t.Errorf("AppendMessage: err = %v, want ErrReference", err)
	}
	if _, err := s.AppendMetrics(PerformanceMetrics{SessionID: "ghost", SuccessRate: 1}); !errors.Is(err, ErrReference) {
		t.Errorf("AppendMetrics: err = %v, want ErrReference", err)
	}
	if _, err := s.AppendEvent(SystemEvent{SessionID: "ghost", Message: "x"}); !errors.Is(err, ErrReference) {
		t.Errorf("AppendEvent: err = %v, want ErrReference", err)
	}
	if _, err := s.AppendMessage(Message{Role: RoleAgent, Content: "x"}); !errors.Is(err, ErrReference) {
		t.Errorf("AppendMessage without session: err = %v, want ErrReference", err)
	}
}

func TestAppendMetrics(t *testing.T) {
	s := openTestStore(t)
	mustCreateSession(t, s, "s1", time.Now())

	_, err := s.AppendMetrics(PerformanceMetrics{
		SessionID:      "s1",
		ResponseTimeMs: 1250.5,
		InputTokens:    100,
		OutputTokens:   40,
		SuccessRate:    1,
		ResourceUsage:  map[string]any{"cpu": 0.5},
	})
	if err != nil {
		t.Fatalf("AppendMetrics: %v", err)
	}

	rows, err := s.ListMetrics("s1", 0)
	if err != nil {
		t.Fatalf("ListMetrics: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	m := rows[0]
	if m.ResponseTimeMs != 1250.5 || m.InputTokens != 100 || m.OutputTokens != 40 || m.SuccessRate != 1 {
		t.Errorf("row = %+v", m)
	}
	if m.ResourceUsage["cpu"] != 0.5 {
		t.Errorf("ResourceUsage = %v", m.ResourceUsage)
	}
}

func TestAppend_Validation(t *testing.T) {
	s := openTestStore(t)
	mustCreateSession(t, s, "s1", time.Now())

	tests := []struct {
		name   string
		append func() (string, error)
	}{
		{"success rate above 1", func() (string, error) {
			return s.AppendMetrics(PerformanceMetrics{SessionID: "s1", SuccessRate: 1.5})
		}},
		{"negative response time", func() (string, error) {
			return s.AppendMetrics(PerformanceMetrics{SessionID: "s1", ResponseTimeMs: -1})
		}},
		{"missing role", func() (string, error) {
			return s.AppendMessage(Message{SessionID: "s1", Content: "x"})
		}},
		{"unknown severity", func() (string, error) {
			return s.AppendEvent(SystemEvent{SessionID: "s1", Severity: "fatal", Message: "x"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.append(); !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
		})
	}

	msgs, err := s.ListMessages("s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	metrics, err := s.ListMetrics("s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 || len(metrics) != 0 {
		t.Errorf("invalid records persisted: %d messages, %d metrics", len(msgs), len(metrics))
	}
}

func TestAppendAndListEvents(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mustCreateSession(t, s, "s1", base)

	events := []SystemEvent{
		{SessionID: "s1", Severity: SeverityInfo, Message: "started", Timestamp: base},
		{SessionID: "s1", Severity: SeverityError, Message: "failed", StackTrace: "trace", Details: map[string]any{"agent": "reader"}, Timestamp: base.Add(time.Second)},
		{Message: "unattached", Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if _, err := s.AppendEvent(e); err != nil {
			t.Fatalf("AppendEvent(%s): %v", e.Message, err)
		}
	}

	all, err := s.ListEvents(EventFilter{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d events, want 3", len(all))
	}
	if all[0].Message != "unattached" {
		t.Errorf("first event = %q, want newest first", all[0].Message)
	}
	if all[0].SessionID != "" {
		t.Errorf("unattached SessionID = %q", all[0].SessionID)
	}
	if all[0].Severity != SeverityInfo {
		t.Errorf("default severity = %q, want info", all[0].Severity)
	}

	errs, err := s.ListEvents(EventFilter{Severity: SeverityError})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || errs[0].StackTrace != "trace" || errs[0].Details["agent"] != "reader" {
		t.Errorf("error events = %+v", errs)
	}

	forSession, err := s.ListEvents(EventFilter{SessionID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(forSession) != 2 {
		t.Errorf("session events = %d, want 2", len(forSession))
	}

	recent, err := s.ListEvents(EventFilter{Since: base.Add(time.Second), Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Message != "unattached" {
		t.Errorf("recent = %+v", recent)
	}

	if _, err := s.AppendEvent(SystemEvent{Severity: "fatal", Message: "x"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid for unknown severity", err)
	}
}

func TestAppend_AfterTerminalSession(t *testing.T) {
	s := openTestStore(t)
	mustCreateSession(t, s, "s1", time.Now())
	if err := s.FinishSession("s1", StatusError, time.Now(), ""); err != nil {
		t.Fatal(err)
	}

	// Children of a terminal session may still be appended (late error events).
	if _, err := s.AppendEvent(SystemEvent{SessionID: "s1", Severity: SeverityError, Message: "late"}); err != nil {
		t.Errorf("AppendEvent on terminal session: %v", err)
	}
}

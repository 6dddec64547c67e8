package storage

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGetSession(t *testing.T) {
	s := openTestStore(t)

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	want := AgentSession{
		ID:            "sess-1",
		AgentName:     "CrewAI: triage",
		StartTime:     start,
		Configuration: map[string]any{"framework": "CrewAI", "agents": []any{"reader", "writer"}},
		Metadata:      map[string]any{"project": "demo"},
	}
	if err := s.CreateSession(want); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("Status = %q, want %q", got.Status, StatusActive)
	}
	if !got.StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", got.StartTime, start)
	}
	if got.EndTime != nil {
		t.Errorf("EndTime = %v, want nil", got.EndTime)
	}
	if got.AgentName != want.AgentName {
		t.Errorf("AgentName = %q, want %q", got.AgentName, want.AgentName)
	}
	if got.Metadata["project"] != "demo" {
		t.Errorf("Metadata = %v", got.Metadata)
	}
	agents, ok := got.Configuration["agents"].([]any)
	if !ok || len(agents) != 2 {
		t.Errorf("Configuration agents = %#v", got.Configuration["agents"])
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetSession("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateSession_DuplicateConflicts(t *testing.T) {
	s := openTestStore(t)
	mustCreateSession(t, s, "dup", time.Now())

	err := s.CreateSession(AgentSession{ID: "dup", AgentName: "other"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestCreateSession_RequiresID(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateSession(AgentSession{AgentName: "x"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid for empty id", err)
	}
	if err := s.CreateSession(AgentSession{ID: "x", Status: "paused"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid for unknown status", err)
	}
}

func TestUpsertSession(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertSession(AgentSession{ID: "u1", AgentName: "first"}); err != nil {
		t.Fatalf("UpsertSession insert: %v", err)
	}
	if err := s.UpsertSession(AgentSession{ID: "u1", AgentName: "second", Metadata: map[string]any{"k": "v"}}); err != nil {
		t.Fatalf("UpsertSession update: %v", err)
	}
	got, err := s.GetSession("u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentName != "second" || got.Metadata["k"] != "v" {
		t.Errorf("after upsert got name=%q metadata=%v", got.AgentName, got.Metadata)
	}
	if got.Status != StatusActive {
		t.Errorf("Status = %q, want active", got.Status)
	}

	if err := s.FinishSession("u1", StatusCompleted, time.Now(), ""); err != nil {
		t.Fatal(err)
	}
	err = s.UpsertSession(AgentSession{ID: "u1", AgentName: "third"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("upsert of terminal session: err = %v, want ErrConflict", err)
	}
}

func TestFinishSession(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mustCreateSession(t, s, "f1", start)

	end := start.Add(90 * time.Second)
	if err := s.FinishSession("f1", StatusCompleted, end, "all good"); err != nil {
		t.Fatalf("FinishSession: %v", err)
	}

	got, err := s.GetSession("f1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Errorf("EndTime = %v, want %v", got.EndTime, end)
	}
	if got.Summary != "all good" {
		t.Errorf("Summary = %q", got.Summary)
	}
}

func TestFinishSession_Transitions(t *testing.T) {
	s := openTestStore(t)
	mustCreateSession(t, s, "t1", time.Now())

	if err := s.FinishSession("t1", StatusActive, time.Now(), ""); !errors.Is(err, ErrConflict) {
		t.Errorf("finish to active: err = %v, want ErrConflict", err)
	}
	if err := s.FinishSession("missing", StatusCompleted, time.Now(), ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("finish unknown: err = %v, want ErrNotFound", err)
	}
	if err := s.FinishSession("t1", StatusError, time.Now(), "failed"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := s.FinishSession("t1", StatusCompleted, time.Now(), ""); !errors.Is(err, ErrConflict) {
		t.Errorf("second finish: err = %v, want ErrConflict", err)
	}

	got, _ := s.GetSession("t1")
	if got.Status != StatusError {
		t.Errorf("terminal status changed to %q", got.Status)
	}
}

func TestFinishSession_ClampsEndTime(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mustCreateSession(t, s, "c1", start)

	if err := s.FinishSession("c1", StatusCompleted, start.Add(-time.Hour), ""); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetSession("c1")
	if got.EndTime == nil || got.EndTime.Before(got.StartTime) {
		t.Errorf("EndTime %v precedes StartTime %v", got.EndTime, got.StartTime)
	}
}

func TestUpdateSessionMetadata(t *testing.T) {
	s := openTestStore(t)
	mustCreateSession(t, s, "m1", time.Now())

	if err := s.UpdateSessionMetadata("m1", map[string]any{"interaction_count": 3}); err != nil {
		t.Fatalf("UpdateSessionMetadata: %v", err)
	}
	got, _ := s.GetSession("m1")
	// JSON numbers decode as float64.
	if got.Metadata["interaction_count"] != float64(3) {
		t.Errorf("interaction_count = %#v", got.Metadata["interaction_count"])
	}

	if err := s.UpdateSessionMetadata("missing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session: err = %v, want ErrNotFound", err)
	}

	if err := s.FinishSession("m1", StatusCompleted, time.Now(), ""); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSessionMetadata("m1", map[string]any{"x": 1}); !errors.Is(err, ErrConflict) {
		t.Errorf("terminal session: err = %v, want ErrConflict", err)
	}
}

func TestListSessions(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		mustCreateSession(t, s, id, base.Add(time.Duration(i)*time.Hour))
	}
	if err := s.FinishSession("b", StatusCompleted, base.Add(2*time.Hour), ""); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListSessions(SessionFilter{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d sessions, want 4", len(all))
	}
	if all[0].ID != "d" || all[3].ID != "a" {
		t.Errorf("order = %s..%s, want newest first", all[0].ID, all[3].ID)
	}

	active, err := s.ListSessions(SessionFilter{Status: StatusActive})
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 3 {
		t.Errorf("active sessions = %d, want 3", len(active))
	}

	window, err := s.ListSessions(SessionFilter{Since: base.Add(time.Hour), Until: base.Add(3 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 2 || window[0].ID != "c" || window[1].ID != "b" {
		t.Errorf("window = %v, want [c b]", sessionIDs(window))
	}

	page, err := s.ListSessions(SessionFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "c" {
		t.Errorf("page = %v, want [c b]", sessionIDs(page))
	}

	byName, err := s.ListSessions(SessionFilter{AgentName: "agent-a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byName) != 1 || byName[0].ID != "a" {
		t.Errorf("byName = %v, want [a]", sessionIDs(byName))
	}
}

func sessionIDs(ss []AgentSession) []string {
	ids := make([]string, len(ss))
	for i, s := range ss {
		ids[i] = s.ID
	}
	return ids
}

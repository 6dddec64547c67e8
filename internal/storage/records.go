package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// --- Store delegates ---

func (s *Store) AppendMessage(m Message) (string, error) {
	var id string
	err := s.Update(func(tx *Tx) error {
		var err error
		id, err = tx.AppendMessage(m)
		return err
	})
	return id, err
}

func (s *Store) AppendMetrics(m PerformanceMetrics) (string, error) {
	var id string
	err := s.Update(func(tx *Tx) error {
		var err error
		id, err = tx.AppendMetrics(m)
		return err
	})
	return id, err
}

func (s *Store) AppendEvent(e SystemEvent) (string, error) {
	var id string
	err := s.Update(func(tx *Tx) error {
		var err error
		id, err = tx.AppendEvent(e)
		return err
	})
	return id, err
}

func (s *Store) ListMessages(sessionID string, limit int) ([]Message, error) {
	return s.view().ListMessages(sessionID, limit)
}

func (s *Store) ListMetrics(sessionID string, limit int) ([]PerformanceMetrics, error) {
	return s.view().ListMetrics(sessionID, limit)
}

func (s *Store) ListEvents(f EventFilter) ([]SystemEvent, error) {
	return s.view().ListEvents(f)
}

// --- Transactional implementations ---

// AppendMessage stores m and returns its id (generated when empty).
// The owning session must exist, otherwise ErrReference is returned.
func (tx *Tx) AppendMessage(m Message) (string, error) {
	if err := tx.requireSession(m.SessionID); err != nil {
		return "", err
	}
	if m.Role == "" {
		return "", fmt.Errorf("message role is required: %w", ErrInvalid)
	}
	fillRecord(&m.ID, &m.Timestamp)

	md, err := encodeMap(m.Metadata)
	if err != nil {
		return "", err
	}
	_, err = tx.q.Exec(`
		INSERT INTO messages (id, session_id, role, content, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Role), m.Content, formatTime(m.Timestamp), md,
	)
	if err != nil {
		return "", wrapErr("insert message", err)
	}
	return m.ID, nil
}

// AppendMetrics stores a metrics row for an existing session.
func (tx *Tx) AppendMetrics(m PerformanceMetrics) (string, error) {
	if err := tx.requireSession(m.SessionID); err != nil {
		return "", err
	}
	if m.SuccessRate < 0 || m.SuccessRate > 1 {
		return "", fmt.Errorf("success rate %v outside [0, 1]: %w", m.SuccessRate, ErrInvalid)
	}
	if m.ResponseTimeMs < 0 {
		return "", fmt.Errorf("negative response time %v: %w", m.ResponseTimeMs, ErrInvalid)
	}
	fillRecord(&m.ID, &m.Timestamp)

	usage, err := encodeMap(m.ResourceUsage)
	if err != nil {
		return "", err
	}
	_, err = tx.q.Exec(`
		INSERT INTO performance_metrics (id, session_id, response_time_ms, input_tokens, output_tokens, success_rate, error_count, timestamp, resource_usage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.ResponseTimeMs, m.InputTokens, m.OutputTokens, m.SuccessRate, m.ErrorCount, formatTime(m.Timestamp), usage,
	)
	if err != nil {
		return "", wrapErr("insert metrics", err)
	}
	return m.ID, nil
}

// AppendEvent stores a system event. SessionID may be empty; when set it must
// name an existing session.
func (tx *Tx) AppendEvent(e SystemEvent) (string, error) {
	var sessionID any
	if e.SessionID != "" {
		if err := tx.requireSession(e.SessionID); err != nil {
			return "", err
		}
		sessionID = e.SessionID
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if !e.Severity.Valid() {
		return "", fmt.Errorf("event severity %q: %w", e.Severity, ErrInvalid)
	}
	fillRecord(&e.ID, &e.Timestamp)

	details, err := encodeMap(e.Details)
	if err != nil {
		return "", err
	}
	_, err = tx.q.Exec(`
		INSERT INTO system_events (id, session_id, severity, message, details, stack_trace, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, sessionID, string(e.Severity), e.Message, details, e.StackTrace, formatTime(e.Timestamp),
	)
	if err != nil {
		return "", wrapErr("insert event", err)
	}
	return e.ID, nil
}

// ListMessages returns a session's messages oldest first.
func (tx *Tx) ListMessages(sessionID string, limit int) ([]Message, error) {
	query, args := appendLimit(`
		SELECT id, session_id, role, content, timestamp, metadata
		FROM messages WHERE session_id = ? ORDER BY timestamp ASC, rowid ASC`,
		[]any{sessionID}, limit, 0)

	rows, err := tx.q.Query(query, args...)
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var role, ts, md string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &ts, &md); err != nil {
			return nil, wrapErr("scan message", err)
		}
		m.Role = Role(role)
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		if m.Metadata, err = decodeMap(md); err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		results = append(results, m)
	}
	return results, wrapErr("list messages", rows.Err())
}

// ListMetrics returns a session's metrics rows oldest first.
func (tx *Tx) ListMetrics(sessionID string, limit int) ([]PerformanceMetrics, error) {
	query, args := appendLimit(`
		SELECT id, session_id, response_time_ms, input_tokens, output_tokens, success_rate, error_count, timestamp, resource_usage
		FROM performance_metrics WHERE session_id = ? ORDER BY timestamp ASC, rowid ASC`,
		[]any{sessionID}, limit, 0)

	rows, err := tx.q.Query(query, args...)
	if err != nil {
		return nil, wrapErr("list metrics", err)
	}
	defer rows.Close()

	var results []PerformanceMetrics
	for rows.Next() {
		var m PerformanceMetrics
		var ts, usage string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ResponseTimeMs, &m.InputTokens, &m.OutputTokens, &m.SuccessRate, &m.ErrorCount, &ts, &usage); err != nil {
			return nil, wrapErr("scan metrics", err)
		}
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("metrics %s: %w", m.ID, err)
		}
		if m.ResourceUsage, err = decodeMap(usage); err != nil {
			return nil, fmt.Errorf("metrics %s: %w", m.ID, err)
		}
		results = append(results, m)
	}
	return results, wrapErr("list metrics", rows.Err())
}

// ListEvents returns events newest first.
func (tx *Tx) ListEvents(f EventFilter) ([]SystemEvent, error) {
	var where []string
	var args []any
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(f.Since))
	}

	query := `SELECT id, session_id, severity, message, details, stack_trace, timestamp FROM system_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"
	query, args = appendLimit(query, args, f.Limit, 0)

	rows, err := tx.q.Query(query, args...)
	if err != nil {
		return nil, wrapErr("list events", err)
	}
	defer rows.Close()

	var results []SystemEvent
	for rows.Next() {
		var e SystemEvent
		var sessionID sql.NullString
		var severity, details, ts string
		if err := rows.Scan(&e.ID, &sessionID, &severity, &e.Message, &details, &e.StackTrace, &ts); err != nil {
			return nil, wrapErr("scan event", err)
		}
		e.SessionID = sessionID.String
		e.Severity = Severity(severity)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		if e.Details, err = decodeMap(details); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		results = append(results, e)
	}
	return results, wrapErr("list events", rows.Err())
}

func fillRecord(id *string, ts *time.Time) {
	if *id == "" {
		*id = uuid.New().String()
	}
	if ts.IsZero() {
		*ts = time.Now()
	}
}

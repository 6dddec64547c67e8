package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const sessionColumns = `id, agent_name, status, start_time, end_time, configuration, metadata, summary`

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Store delegates ---

func (s *Store) CreateSession(sess AgentSession) error {
	return s.Update(func(tx *Tx) error { return tx.CreateSession(sess) })
}

func (s *Store) UpsertSession(sess AgentSession) error {
	return s.Update(func(tx *Tx) error { return tx.UpsertSession(sess) })
}

func (s *Store) GetSession(id string) (AgentSession, error) {
	return s.view().GetSession(id)
}

func (s *Store) ListSessions(f SessionFilter) ([]AgentSession, error) {
	return s.view().ListSessions(f)
}

func (s *Store) UpdateSessionMetadata(id string, metadata map[string]any) error {
	return s.Update(func(tx *Tx) error { return tx.UpdateSessionMetadata(id, metadata) })
}

func (s *Store) FinishSession(id string, status SessionStatus, end time.Time, summary string) error {
	return s.Update(func(tx *Tx) error { return tx.FinishSession(id, status, end, summary) })
}

// --- Transactional implementations ---

// CreateSession inserts a new session. An existing id yields ErrConflict.
func (tx *Tx) CreateSession(sess AgentSession) error {
	if sess.ID == "" {
		return fmt.Errorf("session id is required: %w", ErrInvalid)
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}
	if !sess.Status.Valid() {
		return fmt.Errorf("session status %q: %w", sess.Status, ErrInvalid)
	}
	if sess.StartTime.IsZero() {
		sess.StartTime = time.Now()
	}

	status, err := tx.sessionStatus(sess.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err == nil {
		return fmt.Errorf("session %s already exists with status %s: %w", sess.ID, status, ErrConflict)
	}

	cfg, err := encodeMap(sess.Configuration)
	if err != nil {
		return err
	}
	md, err := encodeMap(sess.Metadata)
	if err != nil {
		return err
	}

	var end any
	if sess.EndTime != nil {
		e := *sess.EndTime
		if e.Before(sess.StartTime) {
			e = sess.StartTime
		}
		end = formatTime(e)
	}

	_, err = tx.q.Exec(`
		INSERT INTO agent_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AgentName, string(sess.Status), formatTime(sess.StartTime), end, cfg, md, sess.Summary,
	)
	return wrapErr("insert session", err)
}

// UpsertSession inserts sess, or refreshes the descriptive fields (name,
// configuration, metadata) of an existing active session. Status and times of
// an existing session are never changed here; a terminal session yields ErrConflict.
func (tx *Tx) UpsertSession(sess AgentSession) error {
	status, err := tx.sessionStatus(sess.ID)
	if errors.Is(err, ErrNotFound) {
		return tx.CreateSession(sess)
	}
	if err != nil {
		return err
	}
	if status.Terminal() {
		return fmt.Errorf("session %s is %s and immutable: %w", sess.ID, status, ErrConflict)
	}

	cfg, err := encodeMap(sess.Configuration)
	if err != nil {
		return err
	}
	md, err := encodeMap(sess.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.q.Exec(`UPDATE agent_sessions SET agent_name = ?, configuration = ?, metadata = ? WHERE id = ?`,
		sess.AgentName, cfg, md, sess.ID)
	return wrapErr("update session", err)
}

func (tx *Tx) GetSession(id string) (AgentSession, error) {
	row := tx.q.QueryRow(`SELECT `+sessionColumns+` FROM agent_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return AgentSession{}, ErrNotFound
	}
	if err != nil {
		return AgentSession{}, err
	}
	return sess, nil
}

// ListSessions returns sessions newest first.
func (tx *Tx) ListSessions(f SessionFilter) ([]AgentSession, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.AgentName != "" {
		where = append(where, "agent_name = ?")
		args = append(args, f.AgentName)
	}
	if !f.Since.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "start_time < ?")
		args = append(args, formatTime(f.Until))
	}

	query := `SELECT ` + sessionColumns + ` FROM agent_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC, id ASC"
	query, args = appendLimit(query, args, f.Limit, f.Offset)

	rows, err := tx.q.Query(query, args...)
	if err != nil {
		return nil, wrapErr("list sessions", err)
	}
	defer rows.Close()

	var results []AgentSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sess)
	}
	return results, wrapErr("list sessions", rows.Err())
}

// UpdateSessionMetadata replaces the metadata of an active session.
func (tx *Tx) UpdateSessionMetadata(id string, metadata map[string]any) error {
	status, err := tx.sessionStatus(id)
	if err != nil {
		return err
	}
	if status.Terminal() {
		return fmt.Errorf("session %s is %s and immutable: %w", id, status, ErrConflict)
	}
	md, err := encodeMap(metadata)
	if err != nil {
		return err
	}
	_, err = tx.q.Exec(`UPDATE agent_sessions SET metadata = ? WHERE id = ?`, md, id)
	return wrapErr("update session metadata", err)
}

// FinishSession moves an active session to a terminal status. The end time
// is clamped so it never precedes the start time.
func (tx *Tx) FinishSession(id string, status SessionStatus, end time.Time, summary string) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finish session with non-terminal status %q: %w", status, ErrConflict)
	}
	sess, err := tx.GetSession(id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("session %s already %s: %w", id, sess.Status, ErrConflict)
	}
	if end.Before(sess.StartTime) {
		end = sess.StartTime
	}

	res, err := tx.q.Exec(`UPDATE agent_sessions SET status = ?, end_time = ?, summary = ? WHERE id = ? AND status = 'active'`,
		string(status), formatTime(end), summary, id)
	if err != nil {
		return wrapErr("finish session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("finish session", err)
	}
	if n != 1 {
		return fmt.Errorf("session %s changed concurrently: %w", id, ErrConflict)
	}
	return nil
}

func (tx *Tx) sessionStatus(id string) (SessionStatus, error) {
	var status string
	err := tx.q.QueryRow(`SELECT status FROM agent_sessions WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", wrapErr("read session status", err)
	}
	return SessionStatus(status), nil
}

// requireSession returns ErrReference when id names no session.
func (tx *Tx) requireSession(id string) error {
	if id == "" {
		return fmt.Errorf("session id is required: %w", ErrReference)
	}
	_, err := tx.sessionStatus(id)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("session %s: %w", id, ErrReference)
	}
	return err
}

func scanSession(sc rowScanner) (AgentSession, error) {
	var sess AgentSession
	var status, start, cfg, md string
	var end sql.NullString
	if err := sc.Scan(&sess.ID, &sess.AgentName, &status, &start, &end, &cfg, &md, &sess.Summary); err != nil {
		if err == sql.ErrNoRows {
			return AgentSession{}, err
		}
		return AgentSession{}, wrapErr("scan session", err)
	}
	sess.Status = SessionStatus(status)

	var err error
	if sess.StartTime, err = parseTime(start); err != nil {
		return AgentSession{}, fmt.Errorf("parsing start_time for session %s: %w", sess.ID, err)
	}
	if end.Valid && end.String != "" {
		t, err := parseTime(end.String)
		if err != nil {
			return AgentSession{}, fmt.Errorf("parsing end_time for session %s: %w", sess.ID, err)
		}
		sess.EndTime = &t
	}
	if sess.Configuration, err = decodeMap(cfg); err != nil {
		return AgentSession{}, fmt.Errorf("session %s configuration: %w", sess.ID, err)
	}
	if sess.Metadata, err = decodeMap(md); err != nil {
		return AgentSession{}, fmt.Errorf("session %s metadata: %w", sess.ID, err)
	}
	return sess, nil
}

func appendLimit(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

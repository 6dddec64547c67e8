package storage

import (
	"database/sql"
	"strings"
	"time"
)

// CountActiveSessions returns the number of sessions with status active.
func (s *Store) CountActiveSessions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM agent_sessions WHERE status = 'active'`).Scan(&n)
	return n, wrapErr("count active sessions", err)
}

// StatusCounts returns the number of sessions per status. Every known status
// is present in the result, with zero when no session has it.
func (s *Store) StatusCounts() (map[SessionStatus]int, error) {
	counts := map[SessionStatus]int{
		StatusActive:    0,
		StatusCompleted: 0,
		StatusError:     0,
	}
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM agent_sessions GROUP BY status`)
	if err != nil {
		return nil, wrapErr("count sessions by status", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapErr("scan status count", err)
		}
		counts[SessionStatus(status)] = n
	}
	return counts, wrapErr("count sessions by status", rows.Err())
}

// AverageResponseTime returns the mean response time of metrics rows with
// since <= timestamp < until, together with the number of rows averaged.
// A zero until means "now or later". With no rows the average is 0.
func (s *Store) AverageResponseTime(since, until time.Time) (float64, int, error) {
	query, args := windowClause(`SELECT COUNT(*), AVG(response_time_ms) FROM performance_metrics`, since, until)

	var n int
	var avg sql.NullFloat64
	if err := s.db.QueryRow(query, args...).Scan(&n, &avg); err != nil {
		return 0, 0, wrapErr("average response time", err)
	}
	return avg.Float64, n, nil
}

// ErrorRate returns errors / (requests + errors) for the window, where
// requests are metrics rows and errors are severity=error events attached to
// a session. It is 0 when the window holds neither.
func (s *Store) ErrorRate(since, until time.Time) (float64, error) {
	mq, margs := windowClause(`SELECT COUNT(*) FROM performance_metrics`, since, until)
	var requests int
	if err := s.db.QueryRow(mq, margs...).Scan(&requests); err != nil {
		return 0, wrapErr("count requests", err)
	}

	eq, eargs := windowClause(`SELECT COUNT(*) FROM system_events WHERE severity = 'error' AND session_id IS NOT NULL`, since, until)
	var errs int
	if err := s.db.QueryRow(eq, eargs...).Scan(&errs); err != nil {
		return 0, wrapErr("count errors", err)
	}

	if requests+errs == 0 {
		return 0, nil
	}
	return float64(errs) / float64(requests+errs), nil
}

// MetricsSummary aggregates all metrics rows of one session. An empty
// sessionID summarises every row in the database.
func (s *Store) MetricsSummary(sessionID string) (MetricsSummary, error) {
	query := `
		SELECT COUNT(*), AVG(response_time_ms), AVG(success_rate),
		       COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM performance_metrics`
	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}

	var sum MetricsSummary
	var avgRT, avgSR sql.NullFloat64
	err := s.db.QueryRow(query, args...).Scan(&sum.TotalRequests, &avgRT, &avgSR, &sum.TotalInputTokens, &sum.TotalOutputTokens)
	if err != nil {
		return MetricsSummary{}, wrapErr("metrics summary", err)
	}
	sum.AvgResponseTimeMs = avgRT.Float64
	sum.AvgSuccessRate = avgSR.Float64
	return sum, nil
}

// Stats is the dashboard view of a time window.
type Stats struct {
	Since             time.Time             `json:"since"`
	Until             time.Time             `json:"until"`
	ActiveSessions    int                   `json:"active_sessions"`
	StatusCounts      map[SessionStatus]int `json:"status_counts"`
	Requests          int                   `json:"requests"`
	AvgResponseTimeMs float64               `json:"avg_response_time_ms"`
	ErrorRate         float64               `json:"error_rate"`
}

// Stats gathers the session counts and the request aggregates of
// [since, until).
func (s *Store) Stats(since, until time.Time) (Stats, error) {
	st := Stats{Since: since, Until: until}
	var err error
	if st.ActiveSessions, err = s.CountActiveSessions(); err != nil {
		return Stats{}, err
	}
	if st.StatusCounts, err = s.StatusCounts(); err != nil {
		return Stats{}, err
	}
	if st.AvgResponseTimeMs, st.Requests, err = s.AverageResponseTime(since, until); err != nil {
		return Stats{}, err
	}
	if st.ErrorRate, err = s.ErrorRate(since, until); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// windowClause appends timestamp bounds to query, which may already contain
// a WHERE clause.
func windowClause(query string, since, until time.Time) (string, []any) {
	var args []any
	join := " WHERE "
	if strings.Contains(query, "WHERE") {
		join = " AND "
	}
	if !since.IsZero() {
		query += join + "timestamp >= ?"
		args = append(args, formatTime(since))
		join = " AND "
	}
	if !until.IsZero() {
		query += join + "timestamp < ?"
		args = append(args, formatTime(until))
	}
	return query, args
}

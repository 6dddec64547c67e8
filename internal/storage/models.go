package storage

import "time"

// SessionStatus is the lifecycle state of an AgentSession.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Role identifies the author of a Message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Severity classifies a SystemEvent.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

type AgentSession struct {
	ID            string         `json:"id" yaml:"id"`
	AgentName     string         `json:"agent_name" yaml:"agent_name"`
	Status        SessionStatus  `json:"status" yaml:"status"`
	StartTime     time.Time      `json:"start_time" yaml:"start_time"`
	EndTime       *time.Time     `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	Configuration map[string]any `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Summary       string         `json:"summary,omitempty" yaml:"summary,omitempty"`
}

type Message struct {
	ID        string         `json:"id" yaml:"id"`
	SessionID string         `json:"session_id" yaml:"session_id"`
	Role      Role           `json:"role" yaml:"role"`
	Content   string         `json:"content" yaml:"content"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type PerformanceMetrics struct {
	ID             string         `json:"id" yaml:"id"`
	SessionID      string         `json:"session_id" yaml:"session_id"`
	ResponseTimeMs float64        `json:"response_time_ms" yaml:"response_time_ms"`
	InputTokens    int            `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens   int            `json:"output_tokens" yaml:"output_tokens"`
	SuccessRate    float64        `json:"success_rate" yaml:"success_rate"` // 0..1
	ErrorCount     int            `json:"error_count" yaml:"error_count"`
	Timestamp      time.Time      `json:"timestamp" yaml:"timestamp"`
	ResourceUsage  map[string]any `json:"resource_usage,omitempty" yaml:"resource_usage,omitempty"`
}

type SystemEvent struct {
	ID         string         `json:"id" yaml:"id"`
	SessionID  string         `json:"session_id,omitempty" yaml:"session_id,omitempty"` // empty when not tied to a session
	Severity   Severity       `json:"severity" yaml:"severity"`
	Message    string         `json:"message" yaml:"message"`
	Details    map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	StackTrace string         `json:"stack_trace,omitempty" yaml:"stack_trace,omitempty"`
	Timestamp  time.Time      `json:"timestamp" yaml:"timestamp"`
}

// SessionFilter narrows ListSessions. Zero values mean "no constraint".
type SessionFilter struct {
	Status    SessionStatus
	AgentName string
	Since     time.Time // start_time >= Since
	Until     time.Time // start_time < Until
	Limit     int
	Offset    int
}

// EventFilter narrows ListEvents. Zero values mean "no constraint".
type EventFilter struct {
	SessionID string
	Severity  Severity
	Since     time.Time
	Limit     int
}

// MetricsSummary aggregates performance_metrics rows.
type MetricsSummary struct {
	TotalRequests     int     `json:"total_requests"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	AvgSuccessRate    float64 `json:"avg_success_rate"`
	TotalInputTokens  int     `json:"total_input_tokens"`
	TotalOutputTokens int     `json:"total_output_tokens"`
}

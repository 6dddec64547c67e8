package export

import (
	"fmt"
	"time"

	"github.com/cmcmaster1/ai-observability-tool/internal/storage"
)

// Source is the read side of the store that Collect needs.
type Source interface {
	GetSession(id string) (storage.AgentSession, error)
	ListSessions(f storage.SessionFilter) ([]storage.AgentSession, error)
	ListMessages(sessionID string, limit int) ([]storage.Message, error)
	ListMetrics(sessionID string, limit int) ([]storage.PerformanceMetrics, error)
	ListEvents(f storage.EventFilter) ([]storage.SystemEvent, error)
}

// Request selects what Collect gathers. Explicit SessionIDs take precedence
// over the Since/Until window, which applies to session start times.
type Request struct {
	Since           time.Time
	Until           time.Time
	SessionIDs      []string
	IncludeMessages bool
	IncludeMetrics  bool
	IncludeEvents   bool
}

// Bundle is one session with the records selected by the Request.
type Bundle struct {
	Session  storage.AgentSession         `json:"session" yaml:"session"`
	Messages []storage.Message            `json:"messages,omitempty" yaml:"messages,omitempty"`
	Metrics  []storage.PerformanceMetrics `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Events   []storage.SystemEvent        `json:"events,omitempty" yaml:"events,omitempty"`
}

// Collect loads the sessions selected by req, newest first unless explicit
// ids were given, along with their child records. Content is exported as
// stored, which is already sanitized.
func Collect(src Source, req Request) ([]Bundle, error) {
	sessions, err := selectSessions(src, req)
	if err != nil {
		return nil, err
	}

	bundles := make([]Bundle, 0, len(sessions))
	for _, sess := range sessions {
		b := Bundle{Session: sess}
		if req.IncludeMessages {
			if b.Messages, err = src.ListMessages(sess.ID, 0); err != nil {
				return nil, fmt.Errorf("messages of %s: %w", sess.ID, err)
			}
		}
		if req.IncludeMetrics {
			if b.Metrics, err = src.ListMetrics(sess.ID, 0); err != nil {
				return nil, fmt.Errorf("metrics of %s: %w", sess.ID, err)
			}
		}
		if req.IncludeEvents {
			if b.Events, err = src.ListEvents(storage.EventFilter{SessionID: sess.ID}); err != nil {
				return nil, fmt.Errorf("events of %s: %w", sess.ID, err)
			}
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}

func selectSessions(src Source, req Request) ([]storage.AgentSession, error) {
	if len(req.SessionIDs) == 0 {
		sessions, err := src.ListSessions(storage.SessionFilter{Since: req.Since, Until: req.Until})
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		return sessions, nil
	}

	sessions := make([]storage.AgentSession, 0, len(req.SessionIDs))
	seen := make(map[string]bool, len(req.SessionIDs))
	for _, id := range req.SessionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		sess, err := src.GetSession(id)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

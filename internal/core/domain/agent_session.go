package domain

import (
	"fmt"
	"strings"
	"time"
)

// Agent session constraints.
const (
	MaxAgentIDLength     = 128
	MaxCurrentTaskLength = 1024
	MaxContextEntries    = 256
	MaxHistoryEntries    = 1000
)

// SessionStatus is the lifecycle state of an agent session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionIdle      SessionStatus = "idle"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// AgentSession is the state an agent carries between invocations.
type AgentSession struct {
	// AgentID identifies the agent; it is also the overlay key.
	AgentID string `json:"agent_id" yaml:"agent_id"`

	// SessionID is a lower-case ULID assigned at creation.
	SessionID string `json:"session_id" yaml:"session_id"`

	Status       SessionStatus `json:"status" yaml:"status"`
	StartedAt    time.Time     `json:"started_at" yaml:"started_at"`
	LastActivity time.Time     `json:"last_activity" yaml:"last_activity"`
	CurrentTask  string        `json:"current_task,omitempty" yaml:"current_task,omitempty"`

	Context map[string]string `json:"context,omitempty" yaml:"context,omitempty"`
	History []string          `json:"history,omitempty" yaml:"history,omitempty"`
}

// NewAgentSession creates an active session for agentID.
func NewAgentSession(agentID string) (*AgentSession, error) {
	id, err := NewID()
	if err != nil {
		return nil, ErrSessionValidation.WithCause(err)
	}
	now := time.Now()
	return &AgentSession{
		AgentID:      agentID,
		SessionID:    id,
		Status:       SessionActive,
		StartedAt:    now,
		LastActivity: now,
		Context:      make(map[string]string),
	}, nil
}

// Touch records activity and optionally appends a history line.
func (s *AgentSession) Touch(event string) {
	s.LastActivity = time.Now()
	if event == "" {
		return
	}
	s.History = append(s.History, event)
	if n := len(s.History); n > MaxHistoryEntries {
		s.History = s.History[n-MaxHistoryEntries:]
	}
}

// Validate validates the session fields against constraints.
// Returns a DomainError with code RH-OVLY-4001 if validation fails.
func (s *AgentSession) Validate() error {
	var violations []string

	if s.AgentID == "" {
		violations = append(violations, "agent_id is required")
	}
	if len(s.AgentID) > MaxAgentIDLength {
		violations = append(violations, fmt.Sprintf("agent_id exceeds %d characters", MaxAgentIDLength))
	}
	if strings.ContainsAny(s.AgentID, "/\\\x00") {
		violations = append(violations, "agent_id contains a path separator or NUL")
	}
	if s.SessionID == "" {
		violations = append(violations, "session_id is required")
	}
	switch s.Status {
	case SessionActive, SessionIdle, SessionCompleted, SessionFailed:
	default:
		violations = append(violations, fmt.Sprintf("unknown status %q", s.Status))
	}
	if len(s.CurrentTask) > MaxCurrentTaskLength {
		violations = append(violations, fmt.Sprintf("current_task exceeds %d characters", MaxCurrentTaskLength))
	}
	if len(s.Context) > MaxContextEntries {
		violations = append(violations, fmt.Sprintf("context exceeds %d entries", MaxContextEntries))
	}
	if len(s.History) > MaxHistoryEntries {
		violations = append(violations, fmt.Sprintf("history exceeds %d entries", MaxHistoryEntries))
	}

	if len(violations) > 0 {
		return ErrSessionValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

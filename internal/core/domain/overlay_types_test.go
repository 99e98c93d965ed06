package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewAgentSession(t *testing.T) {
	s, err := NewAgentSession("agent-1")
	if err != nil {
		t.Fatalf("NewAgentSession() error = %v", err)
	}
	if s.SessionID == "" || s.SessionID != strings.ToLower(s.SessionID) {
		t.Errorf("SessionID = %q, want lower-case ULID", s.SessionID)
	}
	if s.Status != SessionActive {
		t.Errorf("Status = %s, want active", s.Status)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	ts, err := IDTime(s.SessionID)
	if err != nil {
		t.Fatalf("IDTime() error = %v", err)
	}
	if d := time.Since(ts); d < 0 || d > time.Minute {
		t.Errorf("IDTime() = %v, want close to now", ts)
	}
}

func TestAgentSession_Validate(t *testing.T) {
	valid := func() *AgentSession {
		s, _ := NewAgentSession("agent-1")
		return s
	}

	tests := []struct {
		name   string
		mutate func(s *AgentSession)
	}{
		{"missing agent", func(s *AgentSession) { s.AgentID = "" }},
		{"slash in agent", func(s *AgentSession) { s.AgentID = "a/b" }},
		{"long agent", func(s *AgentSession) { s.AgentID = strings.Repeat("a", MaxAgentIDLength+1) }},
		{"missing session id", func(s *AgentSession) { s.SessionID = "" }},
		{"bad status", func(s *AgentSession) { s.Status = "sleeping" }},
		{"long task", func(s *AgentSession) { s.CurrentTask = strings.Repeat("t", MaxCurrentTaskLength+1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			if err := s.Validate(); !errors.Is(err, ErrSessionValidation) {
				t.Errorf("Validate() = %v, want ErrSessionValidation", err)
			}
		})
	}
}

func TestAgentSession_TouchCapsHistory(t *testing.T) {
	s, _ := NewAgentSession("a")
	for i := 0; i < MaxHistoryEntries+5; i++ {
		s.Touch("event")
	}
	s.Touch("")
	if len(s.History) != MaxHistoryEntries {
		t.Errorf("len(History) = %d, want %d", len(s.History), MaxHistoryEntries)
	}
}

func TestWorkflow_Advance(t *testing.T) {
	w, err := NewWorkflow("wf-1", "release", "build", "test")
	if err != nil {
		t.Fatalf("NewWorkflow() error = %v", err)
	}
	if w.RunID == "" {
		t.Error("RunID should be set")
	}

	// pending -> running(build)
	if err := w.Advance(); err != nil {
		t.Fatal(err)
	}
	if w.Status != WorkflowRunning || w.Steps[0].Status != WorkflowRunning {
		t.Fatalf("after first Advance: %s / %s", w.Status, w.Steps[0].Status)
	}

	// build done -> running(test)
	if err := w.Advance(); err != nil {
		t.Fatal(err)
	}
	if w.CurrentStep != 1 || w.Steps[0].Status != WorkflowCompleted || w.Steps[0].CompletedAt.IsZero() {
		t.Fatalf("after second Advance: step=%d steps=%+v", w.CurrentStep, w.Steps)
	}

	// test done -> completed
	if err := w.Advance(); err != nil {
		t.Fatal(err)
	}
	if w.Status != WorkflowCompleted {
		t.Fatalf("Status = %s, want completed", w.Status)
	}

	if err := w.Advance(); !errors.Is(err, ErrWorkflowValidation) {
		t.Errorf("Advance on completed workflow = %v, want ErrWorkflowValidation", err)
	}
	if err := w.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestWorkflow_FailAndValidate(t *testing.T) {
	w, _ := NewWorkflow("wf-2", "deploy", "push")
	_ = w.Advance()
	w.Fail()
	if w.Status != WorkflowFailed || w.Steps[0].Status != WorkflowFailed {
		t.Errorf("Fail() left %s / %s", w.Status, w.Steps[0].Status)
	}

	w.CurrentStep = 3
	w.WorkflowID = ""
	if err := w.Validate(); !errors.Is(err, ErrWorkflowValidation) {
		t.Errorf("Validate() = %v, want ErrWorkflowValidation", err)
	}
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// Workflow constraints.
const (
	MaxWorkflowIDLength = 128
	MaxWorkflowSteps    = 512
)

// WorkflowStatus is the lifecycle state of a workflow or one of its steps.
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

func (s WorkflowStatus) valid() bool {
	switch s {
	case WorkflowPending, WorkflowRunning, WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are expected.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// WorkflowStep is one ordered stage of a workflow.
type WorkflowStep struct {
	Name        string         `json:"name" yaml:"name"`
	Status      WorkflowStatus `json:"status" yaml:"status"`
	StartedAt   time.Time      `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitzero" yaml:"completed_at,omitempty"`
}

// Workflow is a multi-step unit of agent work.
type Workflow struct {
	WorkflowID  string            `json:"workflow_id" yaml:"workflow_id"`
	Name        string            `json:"name" yaml:"name"`
	Status      WorkflowStatus    `json:"status" yaml:"status"`
	Steps       []WorkflowStep    `json:"steps" yaml:"steps"`
	CurrentStep int               `json:"current_step" yaml:"current_step"`
	Variables   map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"updated_at"`

	// RunID distinguishes repeated executions of the same workflow id.
	RunID string `json:"run_id" yaml:"run_id"`
}

// NewWorkflow creates a pending workflow with the named steps.
func NewWorkflow(workflowID, name string, steps ...string) (*Workflow, error) {
	runID, err := NewID()
	if err != nil {
		return nil, ErrWorkflowValidation.WithCause(err)
	}
	now := time.Now()
	w := &Workflow{
		WorkflowID: workflowID,
		Name:       name,
		Status:     WorkflowPending,
		Variables:  make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
		RunID:      runID,
	}
	for _, s := range steps {
		w.Steps = append(w.Steps, WorkflowStep{Name: s, Status: WorkflowPending})
	}
	return w, nil
}

// Advance completes the current step and starts the next one.
// The workflow completes when the last step completes.
func (w *Workflow) Advance() error {
	if w.Status.Terminal() {
		return ErrWorkflowValidation.WithDetails(fmt.Sprintf("workflow is %s", w.Status))
	}
	now := time.Now()
	w.UpdatedAt = now

	if len(w.Steps) == 0 {
		w.Status = WorkflowCompleted
		return nil
	}

	if w.Status == WorkflowPending {
		w.Status = WorkflowRunning
		w.CurrentStep = 0
		w.Steps[0].Status = WorkflowRunning
		w.Steps[0].StartedAt = now
		return nil
	}

	cur := &w.Steps[w.CurrentStep]
	cur.Status = WorkflowCompleted
	cur.CompletedAt = now

	if w.CurrentStep == len(w.Steps)-1 {
		w.Status = WorkflowCompleted
		return nil
	}
	w.CurrentStep++
	next := &w.Steps[w.CurrentStep]
	next.Status = WorkflowRunning
	next.StartedAt = now
	return nil
}

// Fail marks the workflow and its current step failed.
func (w *Workflow) Fail() {
	w.Status = WorkflowFailed
	w.UpdatedAt = time.Now()
	if w.CurrentStep < len(w.Steps) && w.Steps[w.CurrentStep].Status == WorkflowRunning {
		w.Steps[w.CurrentStep].Status = WorkflowFailed
	}
}

// Validate validates the workflow fields against constraints.
// Returns a DomainError with code RH-OVLY-4002 if validation fails.
func (w *Workflow) Validate() error {
	var violations []string

	if w.WorkflowID == "" {
		violations = append(violations, "workflow_id is required")
	}
	if len(w.WorkflowID) > MaxWorkflowIDLength {
		violations = append(violations, fmt.Sprintf("workflow_id exceeds %d characters", MaxWorkflowIDLength))
	}
	if strings.ContainsAny(w.WorkflowID, "/\\\x00") {
		violations = append(violations, "workflow_id contains a path separator or NUL")
	}
	if !w.Status.valid() {
		violations = append(violations, fmt.Sprintf("unknown status %q", w.Status))
	}
	if len(w.Steps) > MaxWorkflowSteps {
		violations = append(violations, fmt.Sprintf("steps exceed %d", MaxWorkflowSteps))
	}
	if w.CurrentStep < 0 || (len(w.Steps) > 0 && w.CurrentStep >= len(w.Steps)) {
		violations = append(violations, "current_step out of range")
	}
	for i, s := range w.Steps {
		if s.Name == "" {
			violations = append(violations, fmt.Sprintf("step %d has no name", i))
		}
		if !s.Status.valid() {
			violations = append(violations, fmt.Sprintf("step %d has unknown status %q", i, s.Status))
		}
	}

	if len(violations) > 0 {
		return ErrWorkflowValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

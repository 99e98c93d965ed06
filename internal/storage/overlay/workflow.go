package overlay

import (
	"context"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
)

const (
	WorkflowKeyPrefix = "workflow:"
	WorkflowTTL       = 30 * 24 * time.Hour
	WorkflowTag       = "workflow"
)

// WorkflowStore persists workflows keyed by workflow id.
type WorkflowStore struct {
	t *typed[domain.Workflow]
}

// NewWorkflowStore creates a workflow overlay over b.
func NewWorkflowStore(b Backing, opts ...Option) *WorkflowStore {
	k := kind[domain.Workflow]{
		prefix:      WorkflowKeyPrefix,
		mirrorDir:   storage.WorkflowsDir,
		contentType: domain.ContentWorkflow,
		tag:         WorkflowTag,
		ttl:         WorkflowTTL,
		id:          func(w *domain.Workflow) string { return w.WorkflowID },
		validate:    func(w *domain.Workflow) error { return w.Validate() },
	}
	return &WorkflowStore{t: newTyped(b, k, opts)}
}

func (s *WorkflowStore) StoreWorkflow(ctx context.Context, w *domain.Workflow) error {
	if w == nil {
		return domain.ErrWorkflowValidation.WithDetails("workflow is nil")
	}
	return s.t.store(ctx, w)
}

// RetrieveWorkflow returns the workflow for id, or nil if none exists.
func (s *WorkflowStore) RetrieveWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	return s.t.retrieve(ctx, id)
}

func (s *WorkflowStore) DeleteWorkflow(ctx context.Context, id string) (bool, error) {
	return s.t.delete(ctx, id)
}

// ListWorkflows returns the cached workflows sorted by id.
func (s *WorkflowStore) ListWorkflows(_ context.Context) ([]*domain.Workflow, error) {
	return s.t.list()
}

func (s *WorkflowStore) Close() {
	s.t.close()
}

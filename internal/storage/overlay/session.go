package overlay

import (
	"context"
	"time"

	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/storage"
)

// SessionKeyPrefix prefixes agent session keys in the store.
const SessionKeyPrefix = "session:"

// SessionTTL is how long an agent session survives without being rewritten.
const SessionTTL = 7 * 24 * time.Hour

// SessionTag marks agent session entries.
const SessionTag = "agent-session"

// AgentSessionStore persists agent sessions keyed by agent id.
type AgentSessionStore struct {
	t *typed[domain.AgentSession]
}

// NewAgentSessionStore creates a session overlay over b.
func NewAgentSessionStore(b Backing, opts ...Option) *AgentSessionStore {
	k := kind[domain.AgentSession]{
		prefix:      SessionKeyPrefix,
		mirrorDir:   storage.SessionsDir,
		contentType: domain.ContentAgentSession,
		tag:         SessionTag,
		ttl:         SessionTTL,
		id:          func(s *domain.AgentSession) string { return s.AgentID },
		validate:    func(s *domain.AgentSession) error { return s.Validate() },
	}
	return &AgentSessionStore{t: newTyped(b, k, opts)}
}

// StoreSession writes s under session:<agent id>.
func (s *AgentSessionStore) StoreSession(ctx context.Context, sess *domain.AgentSession) error {
	if sess == nil {
		return domain.ErrSessionValidation.WithDetails("session is nil")
	}
	return s.t.store(ctx, sess)
}

// RetrieveSession returns the session for agentID, or nil if none exists.
func (s *AgentSessionStore) RetrieveSession(ctx context.Context, agentID string) (*domain.AgentSession, error) {
	return s.t.retrieve(ctx, agentID)
}

// DeleteSession removes the session for agentID.
func (s *AgentSessionStore) DeleteSession(ctx context.Context, agentID string) (bool, error) {
	return s.t.delete(ctx, agentID)
}

// ListSessions returns the cached sessions sorted by agent id.
func (s *AgentSessionStore) ListSessions(_ context.Context) ([]*domain.AgentSession, error) {
	return s.t.list()
}

// Close detaches the store from change notifications.
func (s *AgentSessionStore) Close() {
	s.t.close()
}

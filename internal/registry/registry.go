// Package registry owns the in-memory table of conversation sessions: the
// authoritative runtime record for every conversation the engine knows about.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
)

// ConversationLoader loads the non-ended conversations at startup.
type ConversationLoader interface {
	LoadActiveConversations() ([]*conversation.Conversation, error)
}

// Registry maps conversation ids to live session records.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Add registers a session. Replaces any existing record with the same id.
func (r *Registry) Add(s *Session) {
	conv := s.Conversation()
	r.mu.Lock()
	r.sessions[conv.ID] = s
	r.mu.Unlock()
	r.logger.Debug("session registered",
		"conversation_id", conv.ID, "tool", string(conv.Tool))
}

// Get returns the session for id, or domain.ErrConversationNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return s, nil
}

// Remove drops the session for id. Returns the removed session, or nil.
func (r *Registry) Remove(id string) *Session {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if s != nil {
		r.logger.Debug("session removed", "conversation_id", id)
	}
	return s
}

// List returns all sessions ordered by last activity, newest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Topic returns the display topic for a conversation, or "".
func (r *Registry) Topic(id string) string {
	r.mu.RLock()
	s := r.sessions[id]
	r.mu.RUnlock()
	if s == nil {
		return ""
	}
	return s.Snapshot().Topic
}

// Restore loads the non-ended conversations from the store into the registry.
// Conversations recorded as running or created were orphaned by a previous
// engine shutdown; their processes are gone, so they come back suspended.
// Sessions with a resumption token will re-enter in replay phase on the next
// attach.
func (r *Registry) Restore(loader ConversationLoader) (int, error) {
	convs, err := loader.LoadActiveConversations()
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, conv := range convs {
		switch conv.Status {
		case conversation.StatusRunning, conversation.StatusCreated:
			conv.Status = conversation.StatusSuspended
		}
		replay := conv.SessionID != ""
		r.Add(NewSession(conv, replay))
		restored++
	}

	if restored > 0 {
		r.logger.Info("restored conversations from store", "count", restored)
	}
	return restored, nil
}

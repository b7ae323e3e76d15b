package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentdeck/agentdeck/internal/domain/conversation"
)

// RetentionPolicy bounds how long conversations are kept.
type RetentionPolicy struct {
	// EndedGrace is how long ended conversations survive before deletion.
	EndedGrace time.Duration
	// Horizon deletes conversations of any status past this age.
	Horizon time.Duration
	// MaxConversations caps the table; oldest-by-last-activity rows are
	// deleted until the ceiling is met.
	MaxConversations int
	// Interval between sweeps.
	Interval time.Duration
}

// StartRetention runs periodic cleanup sweeps until ctx is cancelled.
func (s *Store) StartRetention(ctx context.Context, policy RetentionPolicy) {
	if policy.Interval <= 0 {
		policy.Interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(policy.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(policy)
			}
		}
	}()
}

// sweep applies the three retention passes in order.
func (s *Store) sweep(policy RetentionPolicy) {
	now := time.Now().UTC()
	deleted := 0

	if policy.EndedGrace > 0 {
		n, err := s.deleteWhere(
			"status = ? AND lastActivity < ?",
			string(conversation.StatusEnded), now.Add(-policy.EndedGrace))
		if err != nil {
			log.Warn().Err(err).Msg("retention: ended-grace pass failed")
		}
		deleted += n
	}

	if policy.Horizon > 0 {
		n, err := s.deleteWhere("lastActivity < ?", now.Add(-policy.Horizon))
		if err != nil {
			log.Warn().Err(err).Msg("retention: horizon pass failed")
		}
		deleted += n
	}

	if policy.MaxConversations > 0 {
		n, err := s.enforceCeiling(policy.MaxConversations)
		if err != nil {
			log.Warn().Err(err).Msg("retention: ceiling pass failed")
		}
		deleted += n
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("retention sweep removed conversations")
	}
}

// deleteWhere removes matching conversations and their messages, returning
// the number of conversations removed.
func (s *Store) deleteWhere(where string, args ...interface{}) (int, error) {
	rows, err := s.db.Query("SELECT id FROM conversations WHERE "+where, args...)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.DeleteConversation(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// enforceCeiling deletes oldest-by-last-activity conversations until the
// count fits under the ceiling.
func (s *Store) enforceCeiling(ceiling int) (int, error) {
	count, err := s.ConversationCount()
	if err != nil || count <= ceiling {
		return 0, err
	}

	rows, err := s.db.Query(
		"SELECT id FROM conversations ORDER BY lastActivity ASC LIMIT ?", count-ceiling)
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.DeleteConversation(id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// Sweep runs one retention pass immediately. Exposed for tests.
func (s *Store) Sweep(policy RetentionPolicy) {
	s.sweep(policy)
}

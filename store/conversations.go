package store

import "fmt"

// CreateConversation appends a conversation row. Callers run this in its own
// short transaction so the record survives even when the message's main
// transaction rolled back.
func (s *Store) CreateConversation(c *Conversation) error {
	if err := s.db.Create(c).Error; err != nil {
		return fmt.Errorf("recording conversation: %w", err)
	}
	return nil
}

// RecentConversations returns the latest exchanges, newest first.
func (s *Store) RecentConversations(limit int) ([]Conversation, error) {
	q := s.db.Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Conversation
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}
	return out, nil
}

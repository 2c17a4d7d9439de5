package session

import (
	"sync"

	"chatlink/models"
)

// MessageStore holds the messages of the active conversation in arrival
// order. Selecting another conversation resets it wholesale.
type MessageStore struct {
	mu       sync.RWMutex
	messages []models.Message
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// Reset replaces the entire contents with the given history.
func (s *MessageStore) Reset(history []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]models.Message, len(history))
	copy(s.messages, history)
}

// Append adds one message at the end.
func (s *MessageStore) Append(message models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, message)
}

// Messages returns a copy of the current contents in order.
func (s *MessageStore) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages)
}

package transcript

import (
	"sync"

	"github.com/google/uuid"

	"github.com/duoexplain/pkg/models"
)

// Store is an append-only, ordered transcript. The only in-place mutation is
// replacing an assistant message's progress.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	index    map[string]int
	changed  chan struct{}
	newID    func() string
}

// New creates an empty transcript
func New() *Store {
	return &Store{
		index:   make(map[string]int),
		changed: make(chan struct{}),
		newID:   uuid.NewString,
	}
}

// AppendUser appends a user submission and returns its id
func (s *Store) AppendUser(text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := models.NewUserMessage(s.newID(), text)
	s.appendLocked(msg)
	return msg.ID
}

// AppendAssistant appends an assistant response in its Init state and
// returns its id. The result is copied so later changes by the caller do not
// leak into the transcript.
func (s *Store) AppendAssistant(result *models.AnalysisResult) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := models.NewAssistantMessage(s.newID(), result.Clone())
	s.appendLocked(msg)
	return msg.ID
}

// UpdateProgress replaces the progress of the assistant message with the given
// id. It reports false, and changes nothing, when no such assistant message
// exists.
func (s *Store) UpdateProgress(id string, progress models.RevealProgress) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok || !s.messages[i].IsAssistant() {
		return false
	}
	p := progress
	s.messages[i].Progress = &p
	s.notifyLocked()
	return true
}

// Snapshot returns a deep copy of the transcript in order
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = msg.Clone()
	}
	return out
}

// Get returns a copy of one message
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return models.Message{}, false
	}
	return s.messages[i].Clone(), true
}

// Len returns the number of messages
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// LastUserText returns the text of the most recent user message
func (s *Store) LastUserText() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == models.RoleUser {
			return s.messages[i].Text, true
		}
	}
	return "", false
}

// Changed returns a channel that is closed on the next mutation. Callers take
// a fresh channel after each wake-up.
func (s *Store) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

func (s *Store) appendLocked(msg models.Message) {
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.notifyLocked()
}

func (s *Store) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

package audio

import (
	"sort"
	"sync"
)

// Store keeps generated WAV audio in memory, keyed by dialogue id.
type Store struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewStore() *Store {
	return &Store{items: make(map[string][]byte)}
}

func (s *Store) Get(dialogueID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.items[dialogueID]
	return data, ok
}

func (s *Store) Put(dialogueID string, wav []byte) {
	s.mu.Lock()
	s.items[dialogueID] = wav
	s.mu.Unlock()
}

func (s *Store) Delete(dialogueID string) {
	s.mu.Lock()
	delete(s.items, dialogueID)
	s.mu.Unlock()
}

// Clear releases every held buffer.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = make(map[string][]byte)
	s.mu.Unlock()
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

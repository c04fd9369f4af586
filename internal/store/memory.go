package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and store-less development.
// TTLs are enforced lazily on access; publishes are recorded and can be
// inspected with Published.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]memoryEntry
	lists  map[string]*memoryList
	pubs   []PublishedMessage
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryList struct {
	items     [][]byte
	expiresAt time.Time
}

// PublishedMessage is one recorded Publish call
type PublishedMessage struct {
	Channel string
	Message []byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]memoryEntry),
		lists:  make(map[string]*memoryList),
	}
}

func expired(at time.Time, now time.Time) bool {
	return !at.IsZero() && now.After(at)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.values[key]
	if !ok || expired(entry.expiresAt, time.Now()) {
		delete(s.values, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	entry := memoryEntry{value: stored}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.values[key] = entry
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.lists, key)
	return nil
}

func (s *MemoryStore) ListPush(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.liveList(key)
	if list == nil {
		list = &memoryList{}
		s.lists[key] = list
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	list.items = append([][]byte{stored}, list.items...)
	return nil
}

func (s *MemoryStore) ListRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.liveList(key)
	if list == nil {
		return nil, nil
	}

	n := int64(len(list.items))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}

	out := make([][]byte, 0, stop-start+1)
	for _, item := range list.items[start : stop+1] {
		cp := make([]byte, len(item))
		copy(cp, item)
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryStore) ListTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.liveList(key)
	if list == nil {
		return nil
	}

	n := int64(len(list.items))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		list.items = nil
		return nil
	}

	list.items = list.items[start : stop+1]
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline := time.Now().Add(ttl)
	if entry, ok := s.values[key]; ok {
		entry.expiresAt = deadline
		s.values[key] = entry
	}
	if list := s.liveList(key); list != nil {
		list.expiresAt = deadline
	}
	return nil
}

func (s *MemoryStore) Publish(_ context.Context, channel string, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(message))
	copy(stored, message)
	s.pubs = append(s.pubs, PublishedMessage{Channel: channel, Message: stored})
	return nil
}

// Published returns a copy of every message recorded so far
func (s *MemoryStore) Published() []PublishedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PublishedMessage, len(s.pubs))
	copy(out, s.pubs)
	return out
}

// liveList returns the list for key, dropping it first if it has expired.
// Callers must hold the lock.
func (s *MemoryStore) liveList(key string) *memoryList {
	list, ok := s.lists[key]
	if !ok {
		return nil
	}
	if expired(list.expiresAt, time.Now()) {
		delete(s.lists, key)
		return nil
	}
	return list
}

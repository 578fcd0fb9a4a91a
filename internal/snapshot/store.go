package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a topic has no value yet.
var ErrNotFound = errors.New("topic not found")

// ReferenceBlock is a full-state object keyed by topic name.
type ReferenceBlock map[string]any

// Store is the canonical topic snapshot. It is written only from the ingestion
// goroutine; any goroutine may read it.
type Store struct {
	mu        sync.RWMutex
	topics    map[string]any
	merges    uint64
	updatedAt time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		topics: make(map[string]any),
	}
}

// Merge folds payload into topic and returns the merged value.
func (s *Store) Merge(topic string, payload any) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := MergeTopic(ShapeOf(topic), s.topics[topic], payload)
	s.topics[topic] = merged
	s.merges++
	s.updatedAt = time.Now()
	return merged
}

// ApplyReference replaces every topic present in block with the block's value.
// Topics absent from block keep their current value. Returns the number of
// topics replaced.
func (s *Store) ApplyReference(block ReferenceBlock) int {
	if len(block) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for topic, value := range block {
		s.topics[topic] = value
	}
	s.merges++
	s.updatedAt = time.Now()
	return len(block)
}

// Reset drops every topic.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = make(map[string]any)
	s.updatedAt = time.Time{}
}

// Get returns the current value of topic.
func (s *Store) Get(topic string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.topics[topic]
	return v, ok
}

// All returns a copy of the topic map. Values are shared and must be treated
// as read-only.
func (s *Store) All() ReferenceBlock {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(ReferenceBlock, len(s.topics))
	for k, v := range s.topics {
		out[k] = v
	}
	return out
}

// Topics returns the stored topic names in sorted order.
func (s *Store) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.topics))
	for k := range s.topics {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of stored topics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics)
}

// UpdatedAt returns the time of the last write, zero if never written.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Merges returns the number of writes applied so far.
func (s *Store) Merges() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merges
}

// Decode converts the value of topic into dst, typically one of the record
// types in this package.
func (s *Store) Decode(topic string, dst any) error {
	v, ok := s.Get(topic)
	if !ok {
		return fmt.Errorf("%s: %w", topic, ErrNotFound)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", topic, err)
	}
	return nil
}

// Repair rewrites values that were mangled into character arrays and returns
// the topics that changed.
func (s *Store) Repair() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for topic, v := range s.topics {
		fixed, ok := RepairValue(v)
		if !ok {
			continue
		}
		s.topics[topic] = fixed
		changed = append(changed, topic)
	}
	if len(changed) > 0 {
		s.merges++
		s.updatedAt = time.Now()
	}
	sort.Strings(changed)
	return changed
}

// DecodeValue parses JSON into a store value, keeping numbers as json.Number
// so they are re-encoded exactly as received.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// ValueOf converts a Go value (usually a record struct) into a store value.
func ValueOf(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return DecodeValue(raw)
}

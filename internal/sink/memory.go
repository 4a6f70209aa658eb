package sink

import (
	"context"
	"sync"
	"time"
)

// Message is one recorded Publish or SetCache call.
type Message struct {
	Topic   string
	Payload []byte
	TTL     time.Duration
	Cached  bool
}

// Memory records everything it receives. Used in tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	messages []Message
	cache    map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{cache: make(map[string][]byte)}
}

func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Topic: topic, Payload: clone(payload)})
	return nil
}

func (m *Memory) SetCache(_ context.Context, topic string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := clone(payload)
	m.cache[topic] = p
	m.messages = append(m.messages, Message{Topic: topic, Payload: p, TTL: ttl, Cached: true})
	return nil
}

// Cached returns the latest cached value of topic.
func (m *Memory) Cached(topic string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.cache[topic]
	return p, ok
}

// Messages returns every recorded call in order.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Topic returns the recorded calls for one topic.
func (m *Memory) Topic(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

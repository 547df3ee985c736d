// Package memory contains an in-memory publisher for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher records snapshot events per topic for later inspection.
type Publisher struct {
	mu     sync.RWMutex
	seq    int
	events map[string][]any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{events: make(map[string][]any)}
}

// Publish records the payload under the topic and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.events[topic] = append(p.events[topic], payload)
	return fmt.Sprintf("mem-%d", p.seq), nil
}

// Events returns the payloads published to the topic, oldest first.
func (p *Publisher) Events(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]any, len(p.events[topic]))
	copy(out, p.events[topic])
	return out
}

// Count returns the total number of publishes across all topics.
func (p *Publisher) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq
}

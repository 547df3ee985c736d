package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRecordsEvents(t *testing.T) {
	t.Parallel()

	p := New()
	id1, err := p.Publish(context.Background(), "snapshots", map[string]string{"url": "https://a"})
	require.NoError(t, err)
	id2, err := p.Publish(context.Background(), "snapshots", map[string]string{"url": "https://b"})
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, p.Count())

	events := p.Events("snapshots")
	require.Len(t, events, 2)
	assert.Equal(t, map[string]string{"url": "https://a"}, events[0])
}

func TestEventsSeparatedByTopic(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "a", "one")
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), "b", "two")
	require.NoError(t, err)

	assert.Len(t, p.Events("a"), 1)
	assert.Len(t, p.Events("b"), 1)
	assert.Empty(t, p.Events("c"))
}

func TestEventsReturnsCopy(t *testing.T) {
	t.Parallel()

	p := New()
	_, err := p.Publish(context.Background(), "t", "payload")
	require.NoError(t, err)

	events := p.Events("t")
	events[0] = "mutated"

	assert.Equal(t, "payload", p.Events("t")[0])
}

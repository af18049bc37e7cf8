package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	_, ok := pub.Last()
	assert.False(t, ok)

	id1, err := pub.Publish(context.Background(), "runs", map[string]string{"state": "COMPLETED"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "alerts", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "runs", msgs[0].Topic)

	last, ok := pub.Last()
	require.True(t, ok)
	assert.Equal(t, "payload", last.Payload)

	msgs[0].Topic = "modified"
	assert.Equal(t, "runs", pub.Messages()[0].Topic)
}

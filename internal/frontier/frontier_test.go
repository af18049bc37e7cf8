package frontier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrontierFIFOAndSeen(t *testing.T) {
	t.Parallel()

	f := New("http://m.onion/c")
	assert.True(t, f.Push("http://m.onion/c?page=2"))
	assert.False(t, f.Push("http://m.onion/c"))
	assert.False(t, f.Push(""))
	assert.True(t, f.Push("http://m.onion/c?page=3"))
	require.Equal(t, 3, f.Len())

	u, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "http://m.onion/c", u)

	// Popped URLs stay seen.
	assert.False(t, f.Push("http://m.onion/c"))
	assert.True(t, f.Seen("http://m.onion/c"))

	u, _ = f.Pop()
	assert.Equal(t, "http://m.onion/c?page=2", u)
	u, _ = f.Pop()
	assert.Equal(t, "http://m.onion/c?page=3", u)
	_, ok = f.Pop()
	assert.False(t, ok)
}

func TestFrontierSeenCoversQueueAndDequeued(t *testing.T) {
	t.Parallel()

	f := New("a")
	pushes := []string{"b", "c", "a", "d", "b", "e"}
	for i, u := range pushes {
		f.Push(u)
		if i%2 == 0 {
			f.Pop()
		}
		assert.GreaterOrEqual(t, f.SeenCount(), f.Len()+f.Dequeued())
	}
}

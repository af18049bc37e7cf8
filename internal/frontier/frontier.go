// Package frontier walks a category's paginated listing breadth-first and
// collects the product URLs it links to.
package frontier

// Frontier is a FIFO of pending page URLs plus the set of every URL ever
// pushed. A URL is queued at most once.
type Frontier struct {
	queue    []string
	seen     map[string]struct{}
	dequeued int
}

// New returns a frontier holding seed.
func New(seed string) *Frontier {
	f := &Frontier{seen: make(map[string]struct{})}
	f.Push(seed)
	return f
}

// Push queues u unless it was seen before. It reports whether u was queued.
func (f *Frontier) Push(u string) bool {
	if u == "" {
		return false
	}
	if _, ok := f.seen[u]; ok {
		return false
	}
	f.seen[u] = struct{}{}
	f.queue = append(f.queue, u)
	return true
}

// Pop removes the oldest pending URL.
func (f *Frontier) Pop() (string, bool) {
	if len(f.queue) == 0 {
		return "", false
	}
	u := f.queue[0]
	f.queue[0] = ""
	f.queue = f.queue[1:]
	f.dequeued++
	return u, true
}

// Len is the number of pending URLs.
func (f *Frontier) Len() int { return len(f.queue) }

// Seen reports whether u was ever pushed.
func (f *Frontier) Seen(u string) bool {
	_, ok := f.seen[u]
	return ok
}

// SeenCount is the number of distinct URLs ever pushed. It is always at
// least Len plus Dequeued.
func (f *Frontier) SeenCount() int { return len(f.seen) }

// Dequeued is the number of URLs popped so far.
func (f *Frontier) Dequeued() int { return f.dequeued }

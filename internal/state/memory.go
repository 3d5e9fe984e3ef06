package state

import "sync"

// MemoryBackend keeps state in memory only. Useful for tests and one-shot
// runs where resumability is explicitly not wanted.
type MemoryBackend struct {
	mu      sync.Mutex
	cp      *Checkpoint
	threads map[string]map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{threads: make(map[string]map[string]string)}
}

func (b *MemoryBackend) LoadCheckpoint() (*Checkpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cp == nil {
		return nil, nil
	}
	clone := *b.cp
	clone.CompletedChannels = copyMap(b.cp.CompletedChannels)
	clone.Spaces = copyMap(b.cp.Spaces)
	return &clone, nil
}

func (b *MemoryBackend) SaveCheckpoint(cp *Checkpoint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	clone := *cp
	clone.CompletedChannels = copyMap(cp.CompletedChannels)
	clone.Spaces = copyMap(cp.Spaces)
	b.cp = &clone
	return nil
}

func (b *MemoryBackend) LoadThreads(channel string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.threads[channel]
	if !ok {
		return nil, nil
	}
	return copyMap(m), nil
}

func (b *MemoryBackend) SaveThreads(channel string, threads map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threads[channel] = copyMap(threads)
	return nil
}

func (b *MemoryBackend) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cp = nil
	b.threads = make(map[string]map[string]string)
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development. Signing
// produces deterministic URLs and counts calls so de-duplication behavior is
// observable.
type Memory struct {
	mu        sync.Mutex
	objects   map[string][]byte
	seq       int
	signCalls int
	signErr   error
	expiry    time.Duration
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string][]byte),
		expiry:  time.Hour,
	}
}

func (m *Memory) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("memory storage: empty payload")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ref := fmt.Sprintf("gs://memory/object-%d", m.seq)
	stored := make([]byte, len(data))
	copy(stored, data)
	m.objects[ref] = stored
	return ref, nil
}

func (m *Memory) Download(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[ref]
	if !ok {
		return nil, fmt.Errorf("memory storage: no object at %q", ref)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) Sign(ctx context.Context, ref string) (SignedURL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signCalls++
	if m.signErr != nil {
		return SignedURL{}, m.signErr
	}
	if _, ok := m.objects[ref]; !ok {
		return SignedURL{}, fmt.Errorf("memory storage: no object at %q", ref)
	}
	return SignedURL{
		URL:        fmt.Sprintf("https://signed.example/%s?call=%d", ref, m.signCalls),
		ValidUntil: time.Now().Add(m.expiry),
	}, nil
}

// SignCalls reports how many signing calls have been made.
func (m *Memory) SignCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signCalls
}

// FailSigning makes subsequent Sign calls return err; pass nil to recover.
func (m *Memory) FailSigning(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signErr = err
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

package store

import (
	"sync"

	"github.com/wippyai/canister-fs/errors"
)

type chunkKey struct {
	ino uint64
	idx int64
}

// MemoryStore keeps chunks on the Go heap.
type MemoryStore struct {
	chunks map[chunkKey][]byte
	meta   []byte
	size   ChunkSize
	mu     sync.RWMutex
	closed bool
}

// NewMemory creates an empty in-memory store. An invalid size falls back to
// DefaultChunkSize.
func NewMemory(size ChunkSize) *MemoryStore {
	if !size.Valid() {
		size = DefaultChunkSize
	}
	return &MemoryStore{
		chunks: make(map[chunkKey][]byte),
		size:   size,
	}
}

func (s *MemoryStore) ChunkSize() ChunkSize {
	return s.size
}

func (s *MemoryStore) ReadChunk(ino uint64, idx int64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, errClosed("read-chunk")
	}

	c, ok := s.chunks[chunkKey{ino, idx}]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(c))
	copy(out, c)
	return out, true, nil
}

func (s *MemoryStore) WriteChunk(ino uint64, idx int64, data []byte) error {
	if err := checkChunk(s.size, data); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed("write-chunk")
	}

	c := make([]byte, len(data))
	copy(c, data)
	s.chunks[chunkKey{ino, idx}] = c
	return nil
}

func (s *MemoryStore) DeleteChunks(ino uint64, from int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed("delete-chunks")
	}

	for k := range s.chunks {
		if k.ino == ino && k.idx >= from {
			delete(s.chunks, k)
		}
	}
	return nil
}

func (s *MemoryStore) LoadMeta() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed("load-meta")
	}
	if s.meta == nil {
		return nil, nil
	}
	out := make([]byte, len(s.meta))
	copy(out, s.meta)
	return out, nil
}

func (s *MemoryStore) SaveMeta(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed("save-meta")
	}
	s.meta = append([]byte(nil), data...)
	return nil
}

// Len returns the number of stored chunks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.chunks = nil
	return nil
}

func errClosed(op string) error {
	return errors.New(errors.PhaseStore, errors.KindNotInitialized).
		Op(op).
		Detail("store closed").
		Build()
}

package store

import (
	"fmt"

	"github.com/wippyai/canister-fs/errors"
)

// ChunkSize is the size of one storage page in bytes.
type ChunkSize int

const (
	Chunk4K  ChunkSize = 4 << 10
	Chunk8K  ChunkSize = 8 << 10
	Chunk16K ChunkSize = 16 << 10
	Chunk32K ChunkSize = 32 << 10
	Chunk64K ChunkSize = 64 << 10
)

// DefaultChunkSize matches the chunk size canister file tests configure.
const DefaultChunkSize = Chunk16K

// Valid reports whether c is one of the supported chunk sizes.
func (c ChunkSize) Valid() bool {
	switch c {
	case Chunk4K, Chunk8K, Chunk16K, Chunk32K, Chunk64K:
		return true
	}
	return false
}

func (c ChunkSize) String() string {
	return fmt.Sprintf("%dK", int(c)>>10)
}

// ParseChunkSize converts a byte count into a ChunkSize.
func ParseChunkSize(n int) (ChunkSize, error) {
	c := ChunkSize(n)
	if !c.Valid() {
		return 0, errors.InvalidInput(errors.PhaseStore,
			fmt.Sprintf("unsupported chunk size %d (want 4K, 8K, 16K, 32K or 64K)", n))
	}
	return c, nil
}

// Store persists file chunks and the filesystem metadata blob.
type Store interface {
	// ChunkSize returns the fixed chunk size of this store.
	ChunkSize() ChunkSize

	// ReadChunk returns a copy of the chunk, or ok=false if it was never written.
	ReadChunk(ino uint64, idx int64) (data []byte, ok bool, err error)

	// WriteChunk stores a full chunk. len(data) must equal ChunkSize.
	WriteChunk(ino uint64, idx int64, data []byte) error

	// DeleteChunks removes every chunk of ino with index >= from.
	DeleteChunks(ino uint64, from int64) error

	// LoadMeta returns the metadata blob, or nil if none was saved.
	LoadMeta() ([]byte, error)

	// SaveMeta replaces the metadata blob.
	SaveMeta(data []byte) error

	// Close releases the store.
	Close() error
}

func checkChunk(size ChunkSize, data []byte) error {
	if len(data) != int(size) {
		return errors.New(errors.PhaseStore, errors.KindInvalidInput).
			Op("write-chunk").
			Detail("chunk is %d bytes, store uses %d", len(data), int(size)).
			Build()
	}
	return nil
}

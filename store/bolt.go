package store

import (
	"bytes"
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/wippyai/canister-fs/errors"
)

var (
	bucketChunks = []byte("chunks")
	bucketMeta   = []byte("meta")

	keyInodeTable = []byte("inodes")
	keyChunkSize  = []byte("chunk_size")
)

// BoltStore keeps chunks in a bbolt database file. It plays the role of the
// canister's stable memory: data written through it outlives the process.
type BoltStore struct {
	db   *bolt.DB
	size ChunkSize
}

// OpenBolt opens or creates a chunk store at path. Reopening an existing store
// with a different chunk size fails.
func OpenBolt(path string, size ChunkSize) (*BoltStore, error) {
	if !size.Valid() {
		return nil, errors.InvalidInput(errors.PhaseStore, "unsupported chunk size "+size.String())
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.New(errors.PhaseStore, errors.KindIO).
			Op("open").
			Path(path).
			Cause(err).
			Build()
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}

		var want [8]byte
		binary.BigEndian.PutUint64(want[:], uint64(size))
		got := meta.Get(keyChunkSize)
		if got == nil {
			return meta.Put(keyChunkSize, want[:])
		}
		if !bytes.Equal(got, want[:]) {
			return errors.New(errors.PhaseStore, errors.KindInvalidData).
				Op("open").
				Path(path).
				Detail("store was created with chunk size %d, requested %d",
					binary.BigEndian.Uint64(got), int(size)).
				Build()
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	Logger().Debug("bolt store opened", zap.String("path", path), zap.Stringer("chunk_size", size))
	return &BoltStore{db: db, size: size}, nil
}

func (s *BoltStore) ChunkSize() ChunkSize {
	return s.size
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

func chunkID(ino uint64, idx int64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], ino)
	binary.BigEndian.PutUint64(k[8:], uint64(idx))
	return k
}

func (s *BoltStore) ReadChunk(ino uint64, idx int64) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketChunks).Get(chunkID(ino, idx))
		if v != nil {
			// bbolt values are only valid for the life of the transaction
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.IO(errors.PhaseStore, "read-chunk", err)
	}
	return out, out != nil, nil
}

func (s *BoltStore) WriteChunk(ino uint64, idx int64, data []byte) error {
	if err := checkChunk(s.size, data); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunks).Put(chunkID(ino, idx), data)
	})
	if err != nil {
		return errors.IO(errors.PhaseStore, "write-chunk", err)
	}
	return nil
}

func (s *BoltStore) DeleteChunks(ino uint64, from int64) error {
	prefix := chunkID(ino, 0)[:8]
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChunks)

		// Collect first: deleting under a live cursor skips keys.
		var doomed [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(chunkID(ino, from)); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			doomed = append(doomed, append([]byte(nil), k...))
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.IO(errors.PhaseStore, "delete-chunks", err)
	}
	return nil
}

func (s *BoltStore) LoadMeta() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyInodeTable); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.IO(errors.PhaseStore, "load-meta", err)
	}
	return out, nil
}

func (s *BoltStore) SaveMeta(data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyInodeTable, data)
	})
	if err != nil {
		return errors.IO(errors.PhaseStore, "save-meta", err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

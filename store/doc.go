// Package store provides chunked backing storage for the virtual filesystem.
//
// File contents are split into fixed-size chunks addressed by inode number and
// chunk index. A chunk that was never written does not exist in the store; the
// filesystem reads it as zeros. This is what makes sparse files cheap.
//
// Two implementations are provided:
//
//	store.NewMemory(store.Chunk16K)          // heap-backed, lost on exit
//	store.OpenBolt(path, store.Chunk16K)     // bbolt page store, survives restarts
//
// Besides chunks, a store holds one opaque metadata blob that the filesystem
// uses to persist its inode table.
package store

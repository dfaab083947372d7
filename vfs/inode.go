package vfs

import (
	"sort"
	"time"
)

const (
	rootIno = 1

	// blockUnit is the st_blocks unit.
	blockUnit = 512

	// MaxFileSize bounds offsets so chunk arithmetic cannot overflow.
	MaxFileSize = int64(1) << 40

	// MaxReadFileSize bounds what ReadFile loads into memory.
	MaxReadFileSize = int64(64) << 20
)

type inode struct {
	mount    *memMount
	children map[string]uint64
	chunks   map[int64]struct{}
	target   string
	ino      uint64
	parent   uint64
	nlink    uint64
	size     int64
	atim     int64
	mtim     int64
	ctim     int64
	opens    int
	mode     Mode
	uid      uint32
	gid      uint32
}

// Stat is the metadata reported for a path or open file.
type Stat struct {
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Dev     uint64
	Ino     uint64
	Nlink   uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Mode    Mode
	UID     uint32
	GID     uint32
}

// Type returns the file type of the entry.
func (s *Stat) Type() FileType {
	return s.Mode.Type()
}

// Dirent is one directory entry.
type Dirent struct {
	Name string
	Ino  uint64
	Type FileType
}

// blocks returns st_blocks for n under the given chunk size and policy.
func (n *inode) blocks(chunkSize int64, policy AllocPolicy) int64 {
	if !n.mode.IsRegular() {
		return 0
	}
	if n.mount != nil {
		return (n.mount.size + blockUnit - 1) / blockUnit
	}
	if policy == AllocDense {
		return (n.size + blockUnit - 1) / blockUnit
	}

	var total int64
	for idx := range n.chunks {
		start := idx * chunkSize
		if start >= n.size {
			continue
		}
		end := min(start+chunkSize, n.size)
		total += (end - start + blockUnit - 1) / blockUnit
	}
	return total
}

func (n *inode) stat(chunkSize int64, policy AllocPolicy) Stat {
	return Stat{
		Ino:     n.ino,
		Mode:    n.mode,
		Nlink:   n.nlink,
		UID:     n.uid,
		GID:     n.gid,
		Size:    n.length(),
		Blksize: chunkSize,
		Blocks:  n.blocks(chunkSize, policy),
		Atime:   time.Unix(0, n.atim),
		Mtime:   time.Unix(0, n.mtim),
		Ctime:   time.Unix(0, n.ctim),
	}
}

// length is the size seen through descriptors: the mounted memory length
// while a mount is attached, the stored size otherwise.
func (n *inode) length() int64 {
	if n.mount != nil {
		return n.mount.size
	}
	return n.size
}

func (n *inode) sortedNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *inode) sortedChunks() []int64 {
	idx := make([]int64, 0, len(n.chunks))
	for i := range n.chunks {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	return idx
}

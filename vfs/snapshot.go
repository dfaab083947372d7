package vfs

import (
	"encoding/json"
	"fmt"

	"github.com/wippyai/canister-fs/errors"
)

const snapshotVersion = 1

type snapshot struct {
	Inodes  []inodeRecord `json:"inodes"`
	NextIno uint64        `json:"next_ino"`
	Version int           `json:"version"`
}

type inodeRecord struct {
	Children map[string]uint64 `json:"children,omitempty"`
	Target   string            `json:"target,omitempty"`
	Chunks   []int64           `json:"chunks,omitempty"`
	Ino      uint64            `json:"ino"`
	Parent   uint64            `json:"parent,omitempty"`
	Nlink    uint64            `json:"nlink"`
	Size     int64             `json:"size"`
	Atim     int64             `json:"atim"`
	Mtim     int64             `json:"mtim"`
	Ctim     int64             `json:"ctim"`
	Mode     uint32            `json:"mode"`
	UID      uint32            `json:"uid"`
	GID      uint32            `json:"gid"`
}

// snapshot encodes every linked inode. Unlinked inodes that are still open
// are not persisted.
func (fsys *FS) snapshot() ([]byte, error) {
	snap := snapshot{
		Version: snapshotVersion,
		NextIno: fsys.nextIno,
		Inodes:  make([]inodeRecord, 0, len(fsys.inodes)),
	}
	for _, n := range fsys.inodes {
		if n.nlink == 0 {
			continue
		}
		snap.Inodes = append(snap.Inodes, inodeRecord{
			Ino:      n.ino,
			Parent:   n.parent,
			Mode:     uint32(n.mode),
			Nlink:    n.nlink,
			UID:      n.uid,
			GID:      n.gid,
			Size:     n.size,
			Atim:     n.atim,
			Mtim:     n.mtim,
			Ctim:     n.ctim,
			Target:   n.target,
			Children: n.children,
			Chunks:   n.sortedChunks(),
		})
	}

	blob, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseFS, errors.KindInvalidData, err, "encode namespace")
	}
	return blob, nil
}

func (fsys *FS) restore(blob []byte) error {
	var snap snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return errors.Wrap(errors.PhaseFS, errors.KindInvalidData, err, "decode namespace")
	}
	if snap.Version != snapshotVersion {
		return errors.InvalidData(errors.PhaseFS,
			fmt.Sprintf("namespace version %d, want %d", snap.Version, snapshotVersion))
	}

	for _, rec := range snap.Inodes {
		n := &inode{
			ino:    rec.Ino,
			parent: rec.Parent,
			mode:   Mode(rec.Mode),
			nlink:  rec.Nlink,
			uid:    rec.UID,
			gid:    rec.GID,
			size:   rec.Size,
			atim:   rec.Atim,
			mtim:   rec.Mtim,
			ctim:   rec.Ctim,
			target: rec.Target,
		}
		if n.mode.IsDir() {
			n.children = rec.Children
			if n.children == nil {
				n.children = make(map[string]uint64)
			}
		}
		if len(rec.Chunks) > 0 {
			n.chunks = make(map[int64]struct{}, len(rec.Chunks))
			for _, idx := range rec.Chunks {
				n.chunks[idx] = struct{}{}
			}
		}
		fsys.inodes[n.ino] = n
	}

	root, ok := fsys.inodes[rootIno]
	if !ok || !root.mode.IsDir() {
		return errors.InvalidData(errors.PhaseFS, "namespace has no root directory")
	}
	for _, n := range fsys.inodes {
		for name, ino := range n.children {
			if _, ok := fsys.inodes[ino]; !ok {
				return errors.InvalidData(errors.PhaseFS,
					fmt.Sprintf("entry %q in inode %d points at missing inode %d", name, n.ino, ino))
			}
		}
	}

	fsys.nextIno = max(snap.NextIno, rootIno+1)
	return nil
}

package vfs

import (
	"io"
	"strconv"
	"time"

	"github.com/wippyai/canister-fs/errors"
)

// File is an open description: a descriptor number, a cursor and the flags
// it was opened with.
type File struct {
	fsys   *FS
	node   *inode
	name   string
	offset int64
	dirPos int
	fd     int
	flag   Flag
	append bool
	closed bool
}

func fdName(fd int) string {
	return "fd " + strconv.Itoa(fd)
}

// Fd returns the descriptor number.
func (f *File) Fd() int {
	return f.fd
}

// Name returns the canonical path the file was opened by.
func (f *File) Name() string {
	return f.name
}

// IsDir reports whether the file is a directory.
func (f *File) IsDir() bool {
	return f.node.mode.IsDir()
}

// IsAppend reports whether writes go to end-of-file.
func (f *File) IsAppend() bool {
	f.fsys.mu.RLock()
	defer f.fsys.mu.RUnlock()
	return f.append
}

// SetAppend toggles append mode.
func (f *File) SetAppend(enable bool) {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()
	f.append = enable
}

// Read reads from the cursor and advances it.
func (f *File) Read(p []byte) (int, error) {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	if err := f.checkRead(); err != nil {
		return 0, f.fsys.done("read", f.name, err)
	}
	n, err := f.fsys.readAt(f.node, p, f.offset)
	f.offset += int64(n)
	if err == io.EOF {
		if n > 0 || len(p) == 0 {
			err = nil
		}
		return n, err
	}
	return n, f.fsys.done("read", f.name, err)
}

// ReadAt reads at off without moving the cursor.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	if err := f.checkRead(); err != nil {
		return 0, f.fsys.done("pread", f.name, err)
	}
	if off < 0 {
		return 0, f.fsys.done("pread", f.name, EINVAL)
	}
	n, err := f.fsys.readAt(f.node, p, off)
	if err == io.EOF {
		return n, err
	}
	return n, f.fsys.done("pread", f.name, err)
}

// Write writes at the cursor, or at end-of-file in append mode, and
// advances the cursor past the written bytes.
func (f *File) Write(p []byte) (int, error) {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	if err := f.checkWrite(); err != nil {
		return 0, f.fsys.done("write", f.name, err)
	}
	off := f.offset
	if f.append {
		off = f.node.length()
	}
	n, err := f.fsys.writeAt(f.node, p, off)
	f.offset = off + int64(n)
	return n, f.fsys.done("write", f.name, err)
}

// WriteAt writes at off without moving the cursor. In append mode the data
// goes to end-of-file regardless of off.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	if err := f.checkWrite(); err != nil {
		return 0, f.fsys.done("pwrite", f.name, err)
	}
	if off < 0 {
		return 0, f.fsys.done("pwrite", f.name, EINVAL)
	}
	if f.append {
		off = f.node.length()
	}
	n, err := f.fsys.writeAt(f.node, p, off)
	return n, f.fsys.done("pwrite", f.name, err)
}

// Seek sets the cursor. On a directory only a rewind to the start is
// accepted, which restarts Readdir.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	if f.closed {
		return 0, f.fsys.done("seek", f.name, EBADF)
	}
	if f.node.mode.IsDir() {
		if offset != 0 || whence != io.SeekStart {
			return 0, f.fsys.done("seek", f.name, EISDIR)
		}
		f.dirPos = 0
		return 0, nil
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = f.node.length() + offset
	default:
		return 0, f.fsys.done("seek", f.name, EINVAL)
	}
	if abs < 0 {
		return 0, f.fsys.done("seek", f.name, EINVAL)
	}
	f.offset = abs
	return abs, nil
}

// Tell returns the cursor position.
func (f *File) Tell() int64 {
	f.fsys.mu.RLock()
	defer f.fsys.mu.RUnlock()
	return f.offset
}

// Stat returns the current metadata of the open file.
func (f *File) Stat() (Stat, error) {
	f.fsys.mu.RLock()
	defer f.fsys.mu.RUnlock()

	if f.closed {
		return Stat{}, f.fsys.done("fstat", f.name, EBADF)
	}
	return f.fsys.statOf(f.node), nil
}

// Truncate changes the file size. The file must be open for writing.
func (f *File) Truncate(size int64) error {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	switch {
	case f.closed:
		return f.fsys.done("ftruncate", f.name, EBADF)
	case f.node.mode.IsDir():
		return f.fsys.done("ftruncate", f.name, EISDIR)
	case !f.flag.writable():
		return f.fsys.done("ftruncate", f.name, EINVAL)
	}
	return f.fsys.done("ftruncate", f.name, f.fsys.truncate(f.node, size))
}

// Utimens sets the file times. A zero time leaves the value unchanged.
func (f *File) Utimens(atime, mtime time.Time) error {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	if f.closed {
		return f.fsys.done("futimens", f.name, EBADF)
	}
	f.fsys.setTimes(f.node, atime, mtime)
	return f.fsys.done("futimens", f.name, nil)
}

// Sync persists namespace metadata. Chunk data is written through already.
func (f *File) Sync() error {
	f.fsys.mu.RLock()
	defer f.fsys.mu.RUnlock()

	if f.closed {
		return f.fsys.done("fsync", f.name, EBADF)
	}
	return f.fsys.done("fsync", f.name, f.fsys.sync())
}

// Readdir returns up to n entries after the previous call. n <= 0 returns
// all remaining entries. Dot entries are not included.
func (f *File) Readdir(n int) ([]Dirent, error) {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	switch {
	case f.closed:
		return nil, f.fsys.done("readdir", f.name, EBADF)
	case !f.node.mode.IsDir():
		return nil, f.fsys.done("readdir", f.name, ENOTDIR)
	}

	all := f.fsys.dirents(f.node)
	if f.dirPos >= len(all) {
		return nil, nil
	}
	rest := all[f.dirPos:]
	if n > 0 && n < len(rest) {
		rest = rest[:n]
	}
	f.dirPos += len(rest)
	return rest, nil
}

// Close releases the descriptor. Closing twice fails with EBADF.
func (f *File) Close() error {
	f.fsys.mu.Lock()
	defer f.fsys.mu.Unlock()

	if f.closed {
		return f.fsys.done("close", f.name, EBADF)
	}
	f.fsys.closeFile(f)
	return f.fsys.done("close", f.name, nil)
}

func (fsys *FS) closeFile(f *File) {
	f.closed = true
	fsys.fds.remove(f.fd)
	f.node.opens--
	fsys.release(f.node)
}

func (f *File) checkRead() error {
	switch {
	case f.closed, !f.flag.readable():
		return EBADF
	case f.node.mode.IsDir():
		return EISDIR
	}
	return nil
}

func (f *File) checkWrite() error {
	switch {
	case f.closed, !f.flag.writable():
		return EBADF
	case f.node.mode.IsDir():
		return EISDIR
	}
	return nil
}

// readAt copies file content at off into p, from the mounted memory when
// one is attached.
func (fsys *FS) readAt(n *inode, p []byte, off int64) (int, error) {
	if n.mount != nil {
		return n.mount.readAt(p, off)
	}
	return fsys.readStored(n, p, off)
}

// writeAt stores p at off, into the mounted memory when one is attached.
func (fsys *FS) writeAt(n *inode, p []byte, off int64) (int, error) {
	if n.mount == nil {
		return fsys.writeStored(n, p, off)
	}
	written, err := n.mount.writeAt(p, off)
	if written > 0 {
		ts := fsys.stamp()
		n.mtim = ts
		n.ctim = ts
	}
	return written, err
}

// truncate sets the size of n, or of its mounted memory when one is attached.
func (fsys *FS) truncate(n *inode, size int64) error {
	if n.mount == nil {
		return fsys.truncateStored(n, size)
	}
	if err := n.mount.truncate(size); err != nil {
		return err
	}
	ts := fsys.stamp()
	n.mtim = ts
	n.ctim = ts
	return nil
}

// readStored copies chunk content at off into p. Holes read as zeros.
func (fsys *FS) readStored(n *inode, p []byte, off int64) (int, error) {
	if off >= n.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if rem := n.size - off; want > rem {
		want = rem
	}

	var done int64
	for done < want {
		pos := off + done
		idx := pos / fsys.chunk
		within := pos % fsys.chunk
		span := min(fsys.chunk-within, want-done)
		dst := p[done : done+span]

		if _, ok := n.chunks[idx]; ok {
			data, found, err := fsys.store.ReadChunk(n.ino, idx)
			if err != nil {
				return int(done), errors.IO(errors.PhaseFS, "read-chunk", err)
			}
			if found {
				copy(dst, data[within:within+span])
			} else {
				clear(dst)
			}
		} else {
			clear(dst)
		}
		done += span
	}

	if done < int64(len(p)) {
		return int(done), io.EOF
	}
	return int(done), nil
}

// writeStored stores p at off, allocating chunks as needed. The gap between
// the old end-of-file and off reads back as zeros.
func (fsys *FS) writeStored(n *inode, p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p))
	if end > MaxFileSize || end < off {
		return 0, EFBIG
	}
	if n.chunks == nil {
		n.chunks = make(map[int64]struct{})
	}

	var done int64
	for done < int64(len(p)) {
		pos := off + done
		idx := pos / fsys.chunk
		within := pos % fsys.chunk
		span := min(fsys.chunk-within, int64(len(p))-done)

		buf, err := fsys.loadChunk(n, idx)
		if err != nil {
			return int(done), err
		}
		copy(buf[within:], p[done:done+span])
		if err := fsys.store.WriteChunk(n.ino, idx, buf); err != nil {
			return int(done), errors.IO(errors.PhaseFS, "write-chunk", err)
		}
		n.chunks[idx] = struct{}{}
		done += span
		if pos+span > n.size {
			n.size = pos + span
		}
	}

	ts := fsys.stamp()
	n.mtim = ts
	n.ctim = ts
	return int(done), nil
}

// loadChunk returns a full-size buffer for chunk idx, zeroed if the chunk
// was never written.
func (fsys *FS) loadChunk(n *inode, idx int64) ([]byte, error) {
	if _, ok := n.chunks[idx]; ok {
		data, found, err := fsys.store.ReadChunk(n.ino, idx)
		if err != nil {
			return nil, errors.IO(errors.PhaseFS, "read-chunk", err)
		}
		if found {
			return data, nil
		}
	}
	return make([]byte, fsys.chunk), nil
}

// truncateStored sets the stored size of n. Shrinking drops whole chunks past
// the new end and zeroes the tail of the last partial chunk so a later
// extension reads zeros.
func (fsys *FS) truncateStored(n *inode, size int64) error {
	if size < 0 {
		return EINVAL
	}
	if size > MaxFileSize {
		return EFBIG
	}

	if size < n.size {
		keep := (size + fsys.chunk - 1) / fsys.chunk
		if err := fsys.store.DeleteChunks(n.ino, keep); err != nil {
			return errors.IO(errors.PhaseFS, "delete-chunks", err)
		}
		for idx := range n.chunks {
			if idx >= keep {
				delete(n.chunks, idx)
			}
		}

		if within := size % fsys.chunk; within != 0 {
			idx := size / fsys.chunk
			if _, ok := n.chunks[idx]; ok {
				buf, err := fsys.loadChunk(n, idx)
				if err != nil {
					return err
				}
				clear(buf[within:])
				if err := fsys.store.WriteChunk(n.ino, idx, buf); err != nil {
					return errors.IO(errors.PhaseFS, "write-chunk", err)
				}
			}
		}
	}

	n.size = size
	ts := fsys.stamp()
	n.mtim = ts
	n.ctim = ts
	return nil
}

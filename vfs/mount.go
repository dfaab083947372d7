package vfs

import (
	"io"
	"sync"

	"github.com/wippyai/canister-fs/errors"
)

// Memory is host memory that can back a regular file while mounted. An
// *os.File satisfies it, as does MemoryBuffer.
type Memory interface {
	io.ReaderAt
	io.WriterAt
}

// Sizer is implemented by memory that knows its initial content length.
type Sizer interface {
	Size() int64
}

// zeroBlock is the write size used when extending mounted memory.
const zeroBlock = 4096

type memMount struct {
	mem  Memory
	size int64
}

func (m *memMount) readAt(p []byte, off int64) (int, error) {
	if off >= m.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), m.size-off)
	n, err := m.mem.ReadAt(p[:want], off)
	if err != nil && err != io.EOF {
		return n, errors.IO(errors.PhaseFS, "read-memory", err)
	}
	// Memory shorter than the file length reads as zeros.
	clear(p[n:want])
	if want < int64(len(p)) {
		return int(want), io.EOF
	}
	return int(want), nil
}

func (m *memMount) writeAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p))
	if end > MaxFileSize || end < off {
		return 0, EFBIG
	}
	if off > m.size {
		if err := m.zero(m.size, off); err != nil {
			return 0, err
		}
	}
	n, err := m.mem.WriteAt(p, off)
	if off+int64(n) > m.size {
		m.size = off + int64(n)
	}
	if err != nil {
		return n, errors.IO(errors.PhaseFS, "write-memory", err)
	}
	return n, nil
}

func (m *memMount) truncate(size int64) error {
	if size < 0 {
		return EINVAL
	}
	if size > MaxFileSize {
		return EFBIG
	}
	if size > m.size {
		if err := m.zero(m.size, size); err != nil {
			return err
		}
	}
	m.size = size
	return nil
}

// zero clears [from, to) so stale memory is not exposed by an extension.
func (m *memMount) zero(from, to int64) error {
	buf := make([]byte, min(zeroBlock, to-from))
	for off := from; off < to; {
		k := min(int64(len(buf)), to-off)
		if _, err := m.mem.WriteAt(buf[:k], off); err != nil {
			return errors.IO(errors.PhaseFS, "write-memory", err)
		}
		off += k
	}
	return nil
}

// MountMemory attaches mem to the regular file name, creating the file if
// needed. While mounted, descriptors read and write mem instead of the
// stored content. A file mounted before resumes at the length it had when it
// was unmounted; otherwise the length is mem.Size() for a Sizer and zero
// for anything else.
func (fsys *FS) MountMemory(name string, mem Memory) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.done("mount", name, fsys.mountMemory(name, mem))
}

func (fsys *FS) mountMemory(name string, mem Memory) error {
	if fsys.closed {
		return EBADF
	}
	if mem == nil {
		return EINVAL
	}

	r, errno := fsys.resolve(name, true)
	if errno != 0 {
		return errno
	}
	n := r.node
	if n == nil {
		if r.dirOnly {
			return EISDIR
		}
		if !allows(r.parent, permWrite) {
			return EACCES
		}
		n = fsys.newInode(ModeRegular | (0o666 &^ fsys.umask))
		fsys.link(r.parent, r.name, n)
	}
	switch {
	case n.mode.IsDir():
		return EISDIR
	case !n.mode.IsRegular():
		return EINVAL
	case n.mount != nil:
		return EBUSY
	}
	size, ok := fsys.memSizes[n.ino]
	if !ok {
		if sz, isSizer := mem.(Sizer); isSizer {
			size = min(max(sz.Size(), 0), MaxFileSize)
		}
	}
	n.mount = &memMount{mem: mem, size: size}
	return nil
}

// UnmountMemory detaches the memory of name. The stored content becomes
// visible again; the memory length is kept for a later mount.
func (fsys *FS) UnmountMemory(name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	n, err := fsys.mounted(name)
	if err != nil {
		return fsys.done("unmount", name, err)
	}
	fsys.memSizes[n.ino] = n.mount.size
	n.mount = nil
	return fsys.done("unmount", name, nil)
}

// StoreMemory replaces the stored content of name with its mounted memory.
func (fsys *FS) StoreMemory(name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	n, err := fsys.mounted(name)
	if err != nil {
		return fsys.done("store-memory", name, err)
	}
	m := n.mount
	if err := fsys.truncateStored(n, 0); err != nil {
		return fsys.done("store-memory", name, err)
	}
	buf := make([]byte, fsys.chunk)
	for off := int64(0); off < m.size; {
		k, err := m.readAt(buf, off)
		if err != nil && err != io.EOF {
			return fsys.done("store-memory", name, err)
		}
		if _, err := fsys.writeStored(n, buf[:k], off); err != nil {
			return fsys.done("store-memory", name, err)
		}
		off += int64(k)
	}
	return fsys.done("store-memory", name, nil)
}

// InitMemory copies the stored content of name into its mounted memory and
// sets the memory length to the stored size.
func (fsys *FS) InitMemory(name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	n, err := fsys.mounted(name)
	if err != nil {
		return fsys.done("init-memory", name, err)
	}
	m := n.mount
	buf := make([]byte, fsys.chunk)
	for off := int64(0); off < n.size; {
		k, err := fsys.readStored(n, buf, off)
		if err != nil && err != io.EOF {
			return fsys.done("init-memory", name, err)
		}
		if _, err := m.mem.WriteAt(buf[:k], off); err != nil {
			return fsys.done("init-memory", name, errors.IO(errors.PhaseFS, "write-memory", err))
		}
		off += int64(k)
	}
	m.size = n.size
	return fsys.done("init-memory", name, nil)
}

// IsMounted reports whether name currently has memory attached.
func (fsys *FS) IsMounted(name string) bool {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	_, err := fsys.mounted(name)
	return err == nil
}

func (fsys *FS) mounted(name string) (*inode, error) {
	if fsys.closed {
		return nil, EBADF
	}
	r, errno := fsys.resolve(name, true)
	if errno != 0 {
		return nil, errno
	}
	if r.node == nil {
		return nil, ENOENT
	}
	if r.node.mount == nil {
		return nil, EINVAL
	}
	return r.node, nil
}

// MemoryBuffer is a growable in-process Memory.
type MemoryBuffer struct {
	data []byte
	mu   sync.Mutex
}

// NewMemoryBuffer returns a buffer holding a copy of data.
func NewMemoryBuffer(data []byte) *MemoryBuffer {
	return &MemoryBuffer{data: append([]byte(nil), data...)}
}

func (b *MemoryBuffer) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if off < 0 {
		return 0, EINVAL
	}
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *MemoryBuffer) WriteAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if off < 0 {
		return 0, EINVAL
	}
	if end := off + int64(len(p)); end > int64(len(b.data)) {
		b.data = append(b.data, make([]byte, end-int64(len(b.data)))...)
	}
	return copy(b.data[off:], p), nil
}

// Bytes returns a copy of the buffer content.
func (b *MemoryBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

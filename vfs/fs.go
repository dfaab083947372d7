package vfs

import (
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wippyai/canister-fs/errors"
	"github.com/wippyai/canister-fs/store"
)

const (
	permRead  Mode = 0o400
	permWrite Mode = 0o200
	permExec  Mode = 0o100

	// deviceID is reported as st_dev for every entry.
	deviceID = 1
)

// FS is a single-rooted POSIX namespace backed by a chunk store.
type FS struct {
	store   store.Store
	inodes  map[uint64]*inode
	metrics *metrics
	now     func() time.Time
	fds     fdTable
	nextIno uint64
	chunk   int64
	mu      sync.RWMutex
	policy  AllocPolicy
	umask   Mode
	uid     uint32
	gid     uint32
	closed  bool

	// memSizes keeps the length of mounted memory files across unmounts.
	memSizes map[uint64]int64
}

type options struct {
	registerer prometheus.Registerer
	now        func() time.Time
	policy     AllocPolicy
	umask      Mode
	uid        uint32
	gid        uint32
}

// Option configures an FS.
type Option func(*options)

// WithAllocPolicy selects how Stat.Blocks is accounted.
func WithAllocPolicy(p AllocPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithOwner sets the uid and gid stamped on new entries.
func WithOwner(uid, gid uint32) Option {
	return func(o *options) {
		o.uid = uid
		o.gid = gid
	}
}

// WithUmask sets the mask applied to permissions of new entries.
func WithUmask(mask Mode) Option {
	return func(o *options) { o.umask = mask & ModePerm }
}

// WithClock overrides the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics registers operation counters with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New creates a filesystem over st. If st holds a saved namespace it is
// restored, otherwise an empty root directory is created.
func New(st store.Store, opts ...Option) (*FS, error) {
	if st == nil {
		return nil, errors.NotInitialized(errors.PhaseFS, "store")
	}

	o := options{
		policy: AllocSparse,
		umask:  0o022,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	fsys := &FS{
		store:    st,
		inodes:   make(map[uint64]*inode),
		memSizes: make(map[uint64]int64),
		metrics:  newMetrics(o.registerer),
		now:      o.now,
		chunk:    int64(st.ChunkSize()),
		policy:   o.policy,
		umask:    o.umask,
		uid:      o.uid,
		gid:      o.gid,
	}

	blob, err := st.LoadMeta()
	if err != nil {
		return nil, errors.IO(errors.PhaseFS, "load-meta", err)
	}
	if blob != nil {
		if err := fsys.restore(blob); err != nil {
			return nil, err
		}
		Logger().Debug("restored namespace",
			zap.Int("inodes", len(fsys.inodes)),
			zap.Uint64("next_ino", fsys.nextIno))
		return fsys, nil
	}

	ts := fsys.stamp()
	fsys.inodes[rootIno] = &inode{
		ino:      rootIno,
		parent:   rootIno,
		mode:     ModeDir | 0o755,
		nlink:    2,
		uid:      o.uid,
		gid:      o.gid,
		atim:     ts,
		mtim:     ts,
		ctim:     ts,
		children: make(map[string]uint64),
	}
	fsys.nextIno = rootIno + 1
	return fsys, nil
}

// ChunkSize returns the store chunk size, which is also st_blksize.
func (fsys *FS) ChunkSize() int64 {
	return fsys.chunk
}

// AllocPolicy returns the block accounting policy.
func (fsys *FS) AllocPolicy() AllocPolicy {
	return fsys.policy
}

func (fsys *FS) stamp() int64 {
	return fsys.now().UnixNano()
}

// done records the outcome of op and converts internal failures to *PathError.
func (fsys *FS) done(op, name string, err error) error {
	fsys.metrics.observe(op, err)
	if err == nil {
		return nil
	}

	pe := &PathError{Op: op, Path: name}
	var errno Errno
	if stderrors.As(err, &errno) {
		pe.Err = errno
	} else {
		pe.Err = EIO
		pe.Cause = err
	}

	Logger().Debug("operation failed",
		zap.String("op", op),
		zap.String("path", name),
		zap.String("errno", pe.Err.Name()),
		zap.Error(pe.Cause))
	return pe
}

func (fsys *FS) newInode(mode Mode) *inode {
	ts := fsys.stamp()
	n := &inode{
		ino:   fsys.nextIno,
		mode:  mode,
		nlink: 1,
		uid:   fsys.uid,
		gid:   fsys.gid,
		atim:  ts,
		mtim:  ts,
		ctim:  ts,
	}
	fsys.nextIno++
	fsys.inodes[n.ino] = n
	return n
}

func (fsys *FS) link(parent *inode, name string, n *inode) {
	parent.children[name] = n.ino
	ts := fsys.stamp()
	parent.mtim = ts
	parent.ctim = ts
}

func (fsys *FS) unlink(parent *inode, name string) {
	delete(parent.children, name)
	ts := fsys.stamp()
	parent.mtim = ts
	parent.ctim = ts
}

// release drops an inode once no name and no descriptor refers to it.
func (fsys *FS) release(n *inode) {
	if n.nlink > 0 || n.opens > 0 || n.ino == rootIno {
		return
	}
	delete(fsys.inodes, n.ino)
	delete(fsys.memSizes, n.ino)
	n.mount = nil
	if n.mode.IsRegular() && len(n.chunks) > 0 {
		if err := fsys.store.DeleteChunks(n.ino, 0); err != nil {
			Logger().Warn("failed to release chunks",
				zap.Uint64("ino", n.ino),
				zap.Error(err))
		}
	}
}

func allows(n *inode, want Mode) bool {
	return n.mode&want == want
}

// Open opens name with the given flags. perm is used when O_CREATE creates
// the file and is masked by the umask.
func (fsys *FS) Open(name string, flag Flag, perm Mode) (*File, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	f, err := fsys.open(name, flag, perm)
	if err != nil {
		return nil, fsys.done("open", name, err)
	}
	fsys.done("open", name, nil)
	return f, nil
}

// Create creates or truncates name for reading and writing.
func (fsys *FS) Create(name string) (*File, error) {
	return fsys.Open(name, O_RDWR|O_CREATE|O_TRUNC, 0o666)
}

func (fsys *FS) open(name string, flag Flag, perm Mode) (*File, error) {
	if fsys.closed {
		return nil, EBADF
	}

	r, errno := fsys.resolve(name, flag&O_NOFOLLOW == 0)
	if errno != 0 {
		return nil, errno
	}

	n := r.node
	if n == nil {
		if flag&O_CREATE == 0 {
			return nil, ENOENT
		}
		if flag&O_DIRECTORY != 0 {
			return nil, EINVAL
		}
		if r.dirOnly {
			return nil, EISDIR
		}
		if !allows(r.parent, permWrite) {
			return nil, EACCES
		}
		n = fsys.newInode(ModeRegular | (perm &^ fsys.umask & ModePerm))
		fsys.link(r.parent, r.name, n)
	} else {
		switch {
		case flag&O_CREATE != 0 && flag&O_EXCL != 0:
			return nil, EEXIST
		case n.mode.IsSymlink():
			return nil, ELOOP
		case flag&O_DIRECTORY != 0 && !n.mode.IsDir():
			return nil, ENOTDIR
		case n.mode.IsDir() && flag.writable():
			return nil, EISDIR
		case flag.readable() && !allows(n, permRead):
			return nil, EACCES
		case flag.writable() && !allows(n, permWrite):
			return nil, EACCES
		}
		if flag&O_TRUNC != 0 && flag.writable() && n.length() > 0 {
			if err := fsys.truncate(n, 0); err != nil {
				return nil, err
			}
		}
	}

	f := &File{
		fsys:   fsys,
		node:   n,
		name:   r.path,
		flag:   flag,
		append: flag&O_APPEND != 0,
	}
	n.opens++
	f.fd = fsys.fds.insert(f)
	return f, nil
}

// File returns the open file for fd.
func (fsys *FS) File(fd int) (*File, error) {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	f, ok := fsys.fds.get(fd)
	if !ok {
		return nil, &PathError{Op: "fd", Path: fdName(fd), Err: EBADF}
	}
	return f, nil
}

// CloseFd closes the file open on fd.
func (fsys *FS) CloseFd(fd int) error {
	fsys.mu.RLock()
	f, ok := fsys.fds.get(fd)
	fsys.mu.RUnlock()
	if !ok {
		return fsys.done("close", fdName(fd), EBADF)
	}
	return f.Close()
}

// OpenFiles returns the number of open descriptors.
func (fsys *FS) OpenFiles() int {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	return fsys.fds.len()
}

// Mkdir creates a directory. The parent must exist.
func (fsys *FS) Mkdir(name string, perm Mode) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.done("mkdir", name, fsys.mkdir(name, perm))
}

func (fsys *FS) mkdir(name string, perm Mode) error {
	r, errno := fsys.resolve(name, false)
	if errno != 0 {
		return errno
	}
	if r.node != nil {
		return EEXIST
	}
	if !allows(r.parent, permWrite) {
		return EACCES
	}

	n := fsys.newInode(ModeDir | (perm &^ fsys.umask & ModePerm))
	n.nlink = 2
	n.parent = r.parent.ino
	n.children = make(map[string]uint64)
	fsys.link(r.parent, r.name, n)
	r.parent.nlink++
	return nil
}

// MkdirAll creates name and any missing parents. Existing directories are
// not an error.
func (fsys *FS) MkdirAll(name string, perm Mode) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	comps, _, errno := splitPath(name)
	if errno != 0 {
		return fsys.done("mkdir-all", name, errno)
	}

	prefix := ""
	for _, c := range comps {
		prefix += "/" + c
		r, errno := fsys.resolve(prefix, true)
		if errno != 0 {
			return fsys.done("mkdir-all", name, errno)
		}
		if r.node != nil {
			if !r.node.mode.IsDir() {
				return fsys.done("mkdir-all", name, ENOTDIR)
			}
			continue
		}
		if err := fsys.mkdir(prefix, perm); err != nil {
			return fsys.done("mkdir-all", name, err)
		}
	}
	return fsys.done("mkdir-all", name, nil)
}

// Access checks existence (F_OK) or owner permission bits for name.
func (fsys *FS) Access(name string, mode AccessMode) error {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	if mode&^(R_OK|W_OK|X_OK) != 0 {
		return fsys.done("access", name, EINVAL)
	}

	r, errno := fsys.resolve(name, true)
	if errno != 0 {
		return fsys.done("access", name, errno)
	}
	if r.node == nil {
		return fsys.done("access", name, ENOENT)
	}

	var want Mode
	if mode&R_OK != 0 {
		want |= permRead
	}
	if mode&W_OK != 0 {
		want |= permWrite
	}
	if mode&X_OK != 0 {
		want |= permExec
	}
	if !allows(r.node, want) {
		return fsys.done("access", name, EACCES)
	}
	return fsys.done("access", name, nil)
}

// Stat returns metadata for name, following symlinks.
func (fsys *FS) Stat(name string) (Stat, error) {
	return fsys.stat("stat", name, true)
}

// Lstat returns metadata for name without following a final symlink.
func (fsys *FS) Lstat(name string) (Stat, error) {
	return fsys.stat("lstat", name, false)
}

func (fsys *FS) stat(op, name string, follow bool) (Stat, error) {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	r, errno := fsys.resolve(name, follow)
	if errno != 0 {
		return Stat{}, fsys.done(op, name, errno)
	}
	if r.node == nil {
		return Stat{}, fsys.done(op, name, ENOENT)
	}
	fsys.done(op, name, nil)
	return fsys.statOf(r.node), nil
}

func (fsys *FS) statOf(n *inode) Stat {
	st := n.stat(fsys.chunk, fsys.policy)
	st.Dev = deviceID
	return st
}

// Unlink removes a non-directory name.
func (fsys *FS) Unlink(name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	r, errno := fsys.resolve(name, false)
	if errno != 0 {
		return fsys.done("unlink", name, errno)
	}
	switch {
	case r.node == nil:
		return fsys.done("unlink", name, ENOENT)
	case r.node.mode.IsDir():
		return fsys.done("unlink", name, EISDIR)
	case !allows(r.parent, permWrite):
		return fsys.done("unlink", name, EACCES)
	}

	fsys.unlink(r.parent, r.name)
	r.node.nlink--
	r.node.ctim = fsys.stamp()
	fsys.release(r.node)
	return fsys.done("unlink", name, nil)
}

// Rmdir removes an empty directory.
func (fsys *FS) Rmdir(name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	r, errno := fsys.resolve(name, false)
	if errno != 0 {
		return fsys.done("rmdir", name, errno)
	}
	switch {
	case r.node == nil:
		return fsys.done("rmdir", name, ENOENT)
	case !r.node.mode.IsDir():
		return fsys.done("rmdir", name, ENOTDIR)
	case r.node.ino == rootIno:
		return fsys.done("rmdir", name, EBUSY)
	case len(r.node.children) > 0:
		return fsys.done("rmdir", name, ENOTEMPTY)
	case !allows(r.parent, permWrite):
		return fsys.done("rmdir", name, EACCES)
	}

	fsys.unlink(r.parent, r.name)
	r.parent.nlink--
	r.node.nlink = 0
	fsys.release(r.node)
	return fsys.done("rmdir", name, nil)
}

// Rename moves oldname to newname, replacing a compatible target.
func (fsys *FS) Rename(oldname, newname string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.done("rename", oldname, fsys.rename(oldname, newname))
}

func (fsys *FS) rename(oldname, newname string) error {
	src, errno := fsys.resolve(oldname, false)
	if errno != 0 {
		return errno
	}
	if src.node == nil {
		return ENOENT
	}
	if src.node.ino == rootIno {
		return EBUSY
	}
	dst, errno := fsys.resolve(newname, false)
	if errno != 0 {
		return errno
	}
	if dst.node != nil && dst.node.ino == rootIno {
		return EBUSY
	}
	if !allows(src.parent, permWrite) || !allows(dst.parent, permWrite) {
		return EACCES
	}

	n := src.node
	if n.mode.IsDir() {
		// A directory cannot move below itself.
		for p := dst.parent; ; p = fsys.inodes[p.parent] {
			if p.ino == n.ino {
				return EINVAL
			}
			if p.ino == rootIno {
				break
			}
		}
	}

	if t := dst.node; t != nil {
		if t.ino == n.ino {
			return nil
		}
		switch {
		case n.mode.IsDir() && !t.mode.IsDir():
			return ENOTDIR
		case !n.mode.IsDir() && t.mode.IsDir():
			return EISDIR
		case t.mode.IsDir() && len(t.children) > 0:
			return ENOTEMPTY
		}
		fsys.unlink(dst.parent, dst.name)
		if t.mode.IsDir() {
			dst.parent.nlink--
			t.nlink = 0
		} else {
			t.nlink--
		}
		fsys.release(t)
	}

	fsys.unlink(src.parent, src.name)
	fsys.link(dst.parent, dst.name, n)
	if n.mode.IsDir() && src.parent != dst.parent {
		src.parent.nlink--
		dst.parent.nlink++
		n.parent = dst.parent.ino
	}
	n.ctim = fsys.stamp()
	return nil
}

// Link creates newname as a hard link to oldname.
func (fsys *FS) Link(oldname, newname string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	src, errno := fsys.resolve(oldname, false)
	if errno != 0 {
		return fsys.done("link", oldname, errno)
	}
	if src.node == nil {
		return fsys.done("link", oldname, ENOENT)
	}
	if src.node.mode.IsDir() {
		return fsys.done("link", oldname, EPERM)
	}
	dst, errno := fsys.resolve(newname, false)
	if errno != 0 {
		return fsys.done("link", newname, errno)
	}
	if dst.node != nil {
		return fsys.done("link", newname, EEXIST)
	}
	if !allows(dst.parent, permWrite) {
		return fsys.done("link", newname, EACCES)
	}

	fsys.link(dst.parent, dst.name, src.node)
	src.node.nlink++
	src.node.ctim = fsys.stamp()
	return fsys.done("link", newname, nil)
}

// Symlink creates newname as a symbolic link pointing at target.
func (fsys *FS) Symlink(target, newname string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	if target == "" {
		return fsys.done("symlink", newname, ENOENT)
	}
	r, errno := fsys.resolve(newname, false)
	if errno != 0 {
		return fsys.done("symlink", newname, errno)
	}
	if r.node != nil {
		return fsys.done("symlink", newname, EEXIST)
	}
	if !allows(r.parent, permWrite) {
		return fsys.done("symlink", newname, EACCES)
	}

	n := fsys.newInode(ModeSymlink | 0o777)
	n.target = target
	n.size = int64(len(target))
	fsys.link(r.parent, r.name, n)
	return fsys.done("symlink", newname, nil)
}

// Readlink returns the target of a symbolic link.
func (fsys *FS) Readlink(name string) (string, error) {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	r, errno := fsys.resolve(name, false)
	if errno != 0 {
		return "", fsys.done("readlink", name, errno)
	}
	if r.node == nil {
		return "", fsys.done("readlink", name, ENOENT)
	}
	if !r.node.mode.IsSymlink() {
		return "", fsys.done("readlink", name, EINVAL)
	}
	fsys.done("readlink", name, nil)
	return r.node.target, nil
}

// ReadDir lists a directory sorted by name. Dot entries are not included.
func (fsys *FS) ReadDir(name string) ([]Dirent, error) {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()

	r, errno := fsys.resolve(name, true)
	if errno != 0 {
		return nil, fsys.done("readdir", name, errno)
	}
	if r.node == nil {
		return nil, fsys.done("readdir", name, ENOENT)
	}
	if !r.node.mode.IsDir() {
		return nil, fsys.done("readdir", name, ENOTDIR)
	}
	if !allows(r.node, permRead) {
		return nil, fsys.done("readdir", name, EACCES)
	}
	fsys.done("readdir", name, nil)
	return fsys.dirents(r.node), nil
}

func (fsys *FS) dirents(dir *inode) []Dirent {
	names := dir.sortedNames()
	out := make([]Dirent, 0, len(names))
	for _, name := range names {
		child := fsys.inodes[dir.children[name]]
		out = append(out, Dirent{Name: name, Ino: child.ino, Type: child.mode.Type()})
	}
	return out
}

// Chmod replaces the permission bits of name.
func (fsys *FS) Chmod(name string, perm Mode) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	r, errno := fsys.resolve(name, true)
	if errno != 0 {
		return fsys.done("chmod", name, errno)
	}
	if r.node == nil {
		return fsys.done("chmod", name, ENOENT)
	}
	r.node.mode = r.node.mode&ModeType | perm&ModePerm
	r.node.ctim = fsys.stamp()
	return fsys.done("chmod", name, nil)
}

// Utimens sets access and modification times. A zero time leaves the
// corresponding timestamp unchanged.
func (fsys *FS) Utimens(name string, atime, mtime time.Time) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	r, errno := fsys.resolve(name, true)
	if errno != 0 {
		return fsys.done("utimens", name, errno)
	}
	if r.node == nil {
		return fsys.done("utimens", name, ENOENT)
	}
	fsys.setTimes(r.node, atime, mtime)
	return fsys.done("utimens", name, nil)
}

func (fsys *FS) setTimes(n *inode, atime, mtime time.Time) {
	if !atime.IsZero() {
		n.atim = atime.UnixNano()
	}
	if !mtime.IsZero() {
		n.mtim = mtime.UnixNano()
	}
	n.ctim = fsys.stamp()
}

// Truncate changes the size of a regular file.
func (fsys *FS) Truncate(name string, size int64) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	r, errno := fsys.resolve(name, true)
	if errno != 0 {
		return fsys.done("truncate", name, errno)
	}
	switch {
	case r.node == nil:
		return fsys.done("truncate", name, ENOENT)
	case r.node.mode.IsDir():
		return fsys.done("truncate", name, EISDIR)
	case !allows(r.node, permWrite):
		return fsys.done("truncate", name, EACCES)
	}
	return fsys.done("truncate", name, fsys.truncate(r.node, size))
}

// WriteFile writes data to name, creating or truncating it.
func (fsys *FS) WriteFile(name string, data []byte, perm Mode) error {
	f, err := fsys.Open(name, O_WRONLY|O_CREATE|O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadFile returns the whole content of name. Files larger than
// MaxReadFileSize fail with EFBIG.
func (fsys *FS) ReadFile(name string) ([]byte, error) {
	return fsys.ReadFileLimit(name, MaxReadFileSize)
}

// ReadFileLimit returns the whole content of name, or EFBIG if the file
// holds more than limit bytes.
func (fsys *FS) ReadFileLimit(name string, limit int64) ([]byte, error) {
	f, err := fsys.Open(name, O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size > limit {
		return nil, &PathError{Op: "read-file", Path: name, Err: EFBIG}
	}
	buf := make([]byte, st.Size)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// Sync persists the namespace metadata to the store.
func (fsys *FS) Sync() error {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	return fsys.sync()
}

// Close closes every open descriptor, persists metadata and closes the store.
func (fsys *FS) Close() error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	if fsys.closed {
		return nil
	}

	var open []*File
	fsys.fds.each(func(_ int, f *File) bool {
		open = append(open, f)
		return true
	})
	for _, f := range open {
		fsys.closeFile(f)
	}

	err := fsys.sync()
	fsys.closed = true
	if cerr := fsys.store.Close(); err == nil && cerr != nil {
		err = errors.IO(errors.PhaseFS, "close", cerr)
	}
	return err
}

func (fsys *FS) sync() error {
	if fsys.closed {
		return nil
	}
	blob, err := fsys.snapshot()
	if err != nil {
		return err
	}
	if err := fsys.store.SaveMeta(blob); err != nil {
		return errors.IO(errors.PhaseFS, "save-meta", err)
	}
	return nil
}

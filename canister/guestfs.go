package canister

import (
	"io"
	"io/fs"
	"time"

	experimentalsys "github.com/tetratelabs/wazero/experimental/sys"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/canister-fs/vfs"
)

// guestFS exposes a vfs.FS to WASI guests as wazero's sys.FS.
type guestFS struct {
	experimentalsys.UnimplementedFS
	fsys *vfs.FS
}

var _ experimentalsys.FS = (*guestFS)(nil)

func newGuestFS(fsys *vfs.FS) *guestFS {
	return &guestFS{fsys: fsys}
}

var errnoMap = map[vfs.Errno]experimentalsys.Errno{
	vfs.EPERM:        experimentalsys.EPERM,
	vfs.ENOENT:       experimentalsys.ENOENT,
	vfs.EIO:          experimentalsys.EIO,
	vfs.EBADF:        experimentalsys.EBADF,
	vfs.EACCES:       experimentalsys.EACCES,
	vfs.EBUSY:        experimentalsys.EPERM,
	vfs.EEXIST:       experimentalsys.EEXIST,
	vfs.ENOTDIR:      experimentalsys.ENOTDIR,
	vfs.EISDIR:       experimentalsys.EISDIR,
	vfs.EINVAL:       experimentalsys.EINVAL,
	vfs.EFBIG:        experimentalsys.EINVAL,
	vfs.ESPIPE:       experimentalsys.EINVAL,
	vfs.ENAMETOOLONG: experimentalsys.ENAMETOOLONG,
	vfs.ENOSYS:       experimentalsys.ENOSYS,
	vfs.ENOTEMPTY:    experimentalsys.ENOTEMPTY,
	vfs.ELOOP:        experimentalsys.ELOOP,
}

// toErrno converts a vfs error to the errno wazero reports to the guest.
func toErrno(err error) experimentalsys.Errno {
	if err == nil {
		return 0
	}
	if e, ok := errnoMap[vfs.ErrnoOf(err)]; ok {
		return e
	}
	return experimentalsys.EIO
}

func toOpenFlag(oflag experimentalsys.Oflag) vfs.Flag {
	var flag vfs.Flag
	switch {
	case oflag&experimentalsys.O_RDWR != 0:
		flag = vfs.O_RDWR
	case oflag&experimentalsys.O_WRONLY != 0:
		flag = vfs.O_WRONLY
	default:
		flag = vfs.O_RDONLY
	}
	if oflag&experimentalsys.O_APPEND != 0 {
		flag |= vfs.O_APPEND
	}
	if oflag&experimentalsys.O_CREAT != 0 {
		flag |= vfs.O_CREATE
	}
	if oflag&experimentalsys.O_DIRECTORY != 0 {
		flag |= vfs.O_DIRECTORY
	}
	if oflag&experimentalsys.O_EXCL != 0 {
		flag |= vfs.O_EXCL
	}
	if oflag&experimentalsys.O_NOFOLLOW != 0 {
		flag |= vfs.O_NOFOLLOW
	}
	if oflag&experimentalsys.O_TRUNC != 0 {
		flag |= vfs.O_TRUNC
	}
	return flag
}

func toStat(st vfs.Stat) sys.Stat_t {
	return sys.Stat_t{
		Dev:   st.Dev,
		Ino:   sys.Inode(st.Ino),
		Mode:  st.Mode.FileMode(),
		Nlink: st.Nlink,
		Size:  st.Size,
		Atim:  st.Atime.UnixNano(),
		Mtim:  st.Mtime.UnixNano(),
		Ctim:  st.Ctime.UnixNano(),
	}
}

// fromTimespec converts a wazero timestamp. Negative values leave the time
// unchanged.
func fromTimespec(ns int64) time.Time {
	if ns < 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (g *guestFS) OpenFile(path string, flag experimentalsys.Oflag, perm fs.FileMode) (experimentalsys.File, experimentalsys.Errno) {
	f, err := g.fsys.Open(path, toOpenFlag(flag), vfs.Mode(perm.Perm()))
	if err != nil {
		return nil, toErrno(err)
	}
	return &guestFile{f: f}, 0
}

func (g *guestFS) Lstat(path string) (sys.Stat_t, experimentalsys.Errno) {
	st, err := g.fsys.Lstat(path)
	if err != nil {
		return sys.Stat_t{}, toErrno(err)
	}
	return toStat(st), 0
}

func (g *guestFS) Stat(path string) (sys.Stat_t, experimentalsys.Errno) {
	st, err := g.fsys.Stat(path)
	if err != nil {
		return sys.Stat_t{}, toErrno(err)
	}
	return toStat(st), 0
}

func (g *guestFS) Mkdir(path string, perm fs.FileMode) experimentalsys.Errno {
	return toErrno(g.fsys.Mkdir(path, vfs.Mode(perm.Perm())))
}

func (g *guestFS) Chmod(path string, perm fs.FileMode) experimentalsys.Errno {
	return toErrno(g.fsys.Chmod(path, vfs.Mode(perm.Perm())))
}

func (g *guestFS) Rename(from, to string) experimentalsys.Errno {
	return toErrno(g.fsys.Rename(from, to))
}

func (g *guestFS) Rmdir(path string) experimentalsys.Errno {
	return toErrno(g.fsys.Rmdir(path))
}

func (g *guestFS) Unlink(path string) experimentalsys.Errno {
	return toErrno(g.fsys.Unlink(path))
}

func (g *guestFS) Link(oldPath, newPath string) experimentalsys.Errno {
	return toErrno(g.fsys.Link(oldPath, newPath))
}

func (g *guestFS) Symlink(oldPath, linkName string) experimentalsys.Errno {
	return toErrno(g.fsys.Symlink(oldPath, linkName))
}

func (g *guestFS) Readlink(path string) (string, experimentalsys.Errno) {
	target, err := g.fsys.Readlink(path)
	return target, toErrno(err)
}

func (g *guestFS) Utimens(path string, atim, mtim int64) experimentalsys.Errno {
	return toErrno(g.fsys.Utimens(path, fromTimespec(atim), fromTimespec(mtim)))
}

// guestFile adapts an open vfs.File to wazero's sys.File.
type guestFile struct {
	experimentalsys.UnimplementedFile
	f *vfs.File
}

var _ experimentalsys.File = (*guestFile)(nil)

func (g *guestFile) Dev() (uint64, experimentalsys.Errno) {
	st, err := g.f.Stat()
	return st.Dev, toErrno(err)
}

func (g *guestFile) Ino() (sys.Inode, experimentalsys.Errno) {
	st, err := g.f.Stat()
	return sys.Inode(st.Ino), toErrno(err)
}

func (g *guestFile) IsDir() (bool, experimentalsys.Errno) {
	return g.f.IsDir(), 0
}

func (g *guestFile) IsAppend() bool {
	return g.f.IsAppend()
}

func (g *guestFile) SetAppend(enable bool) experimentalsys.Errno {
	g.f.SetAppend(enable)
	return 0
}

func (g *guestFile) Stat() (sys.Stat_t, experimentalsys.Errno) {
	st, err := g.f.Stat()
	if err != nil {
		return sys.Stat_t{}, toErrno(err)
	}
	return toStat(st), 0
}

func (g *guestFile) Read(buf []byte) (int, experimentalsys.Errno) {
	n, err := g.f.Read(buf)
	if err == io.EOF {
		return n, 0
	}
	return n, toErrno(err)
}

func (g *guestFile) Pread(buf []byte, off int64) (int, experimentalsys.Errno) {
	n, err := g.f.ReadAt(buf, off)
	if err == io.EOF {
		return n, 0
	}
	return n, toErrno(err)
}

func (g *guestFile) Seek(offset int64, whence int) (int64, experimentalsys.Errno) {
	pos, err := g.f.Seek(offset, whence)
	return pos, toErrno(err)
}

func (g *guestFile) Readdir(n int) ([]experimentalsys.Dirent, experimentalsys.Errno) {
	entries, err := g.f.Readdir(n)
	if err != nil {
		return nil, toErrno(err)
	}
	dirents := make([]experimentalsys.Dirent, 0, len(entries))
	for _, e := range entries {
		dirents = append(dirents, experimentalsys.Dirent{
			Ino:  sys.Inode(e.Ino),
			Name: e.Name,
			Type: e.Type.Mode().FileMode().Type(),
		})
	}
	return dirents, 0
}

func (g *guestFile) Write(buf []byte) (int, experimentalsys.Errno) {
	n, err := g.f.Write(buf)
	return n, toErrno(err)
}

func (g *guestFile) Pwrite(buf []byte, off int64) (int, experimentalsys.Errno) {
	n, err := g.f.WriteAt(buf, off)
	return n, toErrno(err)
}

func (g *guestFile) Truncate(size int64) experimentalsys.Errno {
	return toErrno(g.f.Truncate(size))
}

func (g *guestFile) Sync() experimentalsys.Errno {
	return toErrno(g.f.Sync())
}

func (g *guestFile) Datasync() experimentalsys.Errno {
	return g.Sync()
}

func (g *guestFile) Utimens(atim, mtim int64) experimentalsys.Errno {
	return toErrno(g.f.Utimens(fromTimespec(atim), fromTimespec(mtim)))
}

func (g *guestFile) Close() experimentalsys.Errno {
	return toErrno(g.f.Close())
}

package vfs

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/canister-fs/store"
)

var epoch = time.Unix(1700000000, 0)

func newTestFS(t *testing.T, opts ...Option) *FS {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return epoch })}, opts...)
	fsys, err := New(store.NewMemory(store.Chunk16K), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { fsys.Close() })
	return fsys
}

func wantErrno(t *testing.T, err error, want Errno) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want.Name())
	}
	if got := ErrnoOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want.Name(), got.Name(), err)
	}
}

func TestFS_RootStat(t *testing.T) {
	fsys := newTestFS(t, WithOwner(1000, 1000))

	st, err := fsys.Stat("/")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	want := Stat{
		Dev:     deviceID,
		Ino:     rootIno,
		Mode:    ModeDir | 0o755,
		Nlink:   2,
		UID:     1000,
		GID:     1000,
		Blksize: int64(store.Chunk16K),
		Atime:   epoch,
		Mtime:   epoch,
		Ctime:   epoch,
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("root stat mismatch (-want +got):\n%s", diff)
	}
	if st.Type() != FileTypeDirectory {
		t.Fatalf("expected directory, got %s", st.Type())
	}
}

func TestFS_PathForms(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.Mkdir("./tmp", 0o777); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	var inos []uint64
	for _, p := range []string{"./tmp", "tmp", "/tmp", "/tmp/", "/../tmp", "//tmp/."} {
		st, err := fsys.Stat(p)
		if err != nil {
			t.Fatalf("Stat(%q) failed: %v", p, err)
		}
		inos = append(inos, st.Ino)
	}
	for _, ino := range inos[1:] {
		if ino != inos[0] {
			t.Fatalf("path forms resolved to different inodes: %v", inos)
		}
	}
}

func TestFS_DotEntriesWalkTree(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.MkdirAll("/a/b", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := fsys.WriteFile("/content.txt", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fsys.Symlink("a/b", "/lb"); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	tests := []struct {
		path  string
		errno Errno
	}{
		{"content.txt/", ENOTDIR},
		{"/content.txt/..", ENOTDIR},
		{"/content.txt/.", ENOTDIR},
		{"/missing/..", ENOENT},
		{"/a/b/../../content.txt/", ENOTDIR},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := fsys.Stat(tt.path)
			wantErrno(t, err, tt.errno)
		})
	}

	_, err := fsys.Open("content.txt/", O_RDONLY, 0)
	wantErrno(t, err, ENOTDIR)

	_, err = fsys.Open("/new.txt/", O_RDWR|O_CREATE, 0o644)
	wantErrno(t, err, EISDIR)

	a, _ := fsys.Stat("/a")
	root, _ := fsys.Stat("/")
	checks := []struct {
		path string
		ino  uint64
	}{
		{"/a/b/..", a.Ino},
		{"/a/./b/../../a", a.Ino},
		{"/lb/..", a.Ino},
		{"/a/..", root.Ino},
		{"/../..", root.Ino},
	}
	for _, c := range checks {
		st, err := fsys.Stat(c.path)
		if err != nil {
			t.Fatalf("Stat(%q) failed: %v", c.path, err)
		}
		if st.Ino != c.ino {
			t.Errorf("Stat(%q) = inode %d, want %d", c.path, st.Ino, c.ino)
		}
	}

	if err := fsys.Mkdir("/fresh/", 0o755); err != nil {
		t.Fatalf("Mkdir with trailing slash failed: %v", err)
	}
	err = fsys.Unlink("/content.txt/")
	wantErrno(t, err, ENOTDIR)
}

func TestFS_EmptyPath(t *testing.T) {
	fsys := newTestFS(t)

	_, err := fsys.Stat("")
	wantErrno(t, err, ENOENT)
}

func TestFS_NameTooLong(t *testing.T) {
	fsys := newTestFS(t)

	err := fsys.Mkdir("/"+strings.Repeat("a", 256), 0o755)
	wantErrno(t, err, ENAMETOOLONG)

	if err := fsys.Mkdir("/"+strings.Repeat("a", 255), 0o755); err != nil {
		t.Fatalf("Mkdir with 255 byte name failed: %v", err)
	}
}

func TestFS_Mkdir(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.Mkdir("./tmp", 0o777); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := fsys.Mkdir("./tmp/test", 0o777); err != nil {
		t.Fatalf("Mkdir nested failed: %v", err)
	}

	tests := []struct {
		name string
		path string
		want Errno
	}{
		{"exists", "./tmp", EEXIST},
		{"root", "/", EEXIST},
		{"missing parent", "/nope/child", ENOENT},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantErrno(t, fsys.Mkdir(tt.path, 0o755), tt.want)
		})
	}

	if err := fsys.WriteFile("/file", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	wantErrno(t, fsys.Mkdir("/file/child", 0o755), ENOTDIR)

	st, err := fsys.Stat("/tmp")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if st.Mode != ModeDir|0o755 {
		t.Fatalf("expected mode 40755 after umask, got %s", st.Mode)
	}
	if st.Nlink != 3 {
		t.Fatalf("expected nlink 3 for dir with one subdir, got %d", st.Nlink)
	}
}

func TestFS_MkdirAll(t *testing.T) {
	fsys := newTestFS(t)

	for i := 0; i < 2; i++ {
		if err := fsys.MkdirAll("/a/b/c", 0o755); err != nil {
			t.Fatalf("MkdirAll pass %d failed: %v", i, err)
		}
	}
	if _, err := fsys.Stat("/a/b/c"); err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	if err := fsys.WriteFile("/a/f", nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	wantErrno(t, fsys.MkdirAll("/a/f/g", 0o755), ENOTDIR)
}

func TestFS_Access(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.Mkdir("./tmp", 0o777); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := fsys.WriteFile("/ro", []byte("x"), 0o444); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tests := []struct {
		name string
		path string
		mode AccessMode
		want Errno
	}{
		{"dir exists", "./tmp", F_OK, 0},
		{"dir readable", "./tmp", R_OK, 0},
		{"dir writable", "./tmp", W_OK, 0},
		{"dir searchable", "./tmp", X_OK, 0},
		{"missing", "./nope", F_OK, ENOENT},
		{"read only file", "/ro", W_OK, EACCES},
		{"read only file readable", "/ro", R_OK, 0},
		{"bad mode", "/ro", AccessMode(8), EINVAL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fsys.Access(tt.path, tt.mode)
			if tt.want == 0 {
				if err != nil {
					t.Fatalf("Access failed: %v", err)
				}
				return
			}
			wantErrno(t, err, tt.want)
			if Code(err) != -int(tt.want) {
				t.Fatalf("expected code %d, got %d", -int(tt.want), Code(err))
			}
		})
	}
}

func TestFS_StatMissing(t *testing.T) {
	fsys := newTestFS(t)

	st, err := fsys.Stat("./missing")
	wantErrno(t, err, ENOENT)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
	if st != (Stat{}) {
		t.Fatalf("expected zero Stat on failure, got %+v", st)
	}
}

func TestFS_SparseWriteStat(t *testing.T) {
	fsys := newTestFS(t)

	f, err := fsys.Open("/tmp", O_WRONLY|O_CREATE|O_TRUNC, 0o644)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := f.Seek(1011, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if _, err := f.Write([]byte("a")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Metadata is visible before close.
	st, err := fsys.Stat("./tmp")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if st.Size != 1012 {
		t.Fatalf("expected size 1012, got %d", st.Size)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	st, err = fsys.Stat("./tmp")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	want := Stat{
		Dev:     deviceID,
		Ino:     st.Ino,
		Mode:    ModeRegular | 0o644,
		Nlink:   1,
		Size:    1012,
		Blksize: 16384,
		Blocks:  2,
		Atime:   epoch,
		Mtime:   epoch,
		Ctime:   epoch,
	}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("stat mismatch (-want +got):\n%s", diff)
	}

	data, err := fsys.ReadFile("tmp")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	wantData := make([]byte, 1012)
	wantData[1011] = 'a'
	if !bytes.Equal(data, wantData) {
		t.Fatal("gap did not read back as zeros")
	}
}

func TestFS_BlockAccounting(t *testing.T) {
	tests := []struct {
		name   string
		policy AllocPolicy
		off    int64
		want   int64
	}{
		{"sparse small", AllocSparse, 1011, 2},
		{"dense small", AllocDense, 1011, 2},
		{"sparse far", AllocSparse, 100000, 4},
		{"dense far", AllocDense, 100000, 196},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := newTestFS(t, WithAllocPolicy(tt.policy))

			f, err := fsys.Create("/f")
			if err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			if _, err := f.WriteAt([]byte("z"), tt.off); err != nil {
				t.Fatalf("WriteAt failed: %v", err)
			}
			st, err := f.Stat()
			if err != nil {
				t.Fatalf("Stat failed: %v", err)
			}
			if st.Size != tt.off+1 {
				t.Fatalf("expected size %d, got %d", tt.off+1, st.Size)
			}
			if st.Blocks != tt.want {
				t.Fatalf("expected %d blocks, got %d", tt.want, st.Blocks)
			}
		})
	}
}

func TestFS_OpenDirectoryForWrite(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.Mkdir("./tmp", 0o777); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	_, err := fsys.Open("/tmp", O_WRONLY|O_CREATE|O_TRUNC, 0o644)
	wantErrno(t, err, EISDIR)

	st, err := fsys.Stat("./tmp")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if st.Type() != FileTypeDirectory {
		t.Fatalf("expected directory, got %s", st.Type())
	}
}

func TestFS_OpenFlags(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.WriteFile("/f", []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := fsys.Open("/f", O_RDWR|O_CREATE|O_EXCL, 0o644)
	wantErrno(t, err, EEXIST)

	_, err = fsys.Open("/missing", O_RDONLY, 0)
	wantErrno(t, err, ENOENT)

	_, err = fsys.Open("/f", O_RDONLY|O_DIRECTORY, 0)
	wantErrno(t, err, ENOTDIR)

	f, err := fsys.Open("/f", O_RDONLY, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	_, err = f.Write([]byte("x"))
	wantErrno(t, err, EBADF)
	wantErrno(t, f.Truncate(0), EINVAL)

	w, err := fsys.Open("/f", O_WRONLY, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer w.Close()
	_, err = w.Read(make([]byte, 1))
	wantErrno(t, err, EBADF)
}

func TestFS_ReadWriteSeek(t *testing.T) {
	fsys := newTestFS(t)

	f, err := fsys.Create("/content.txt")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()

	if _, err := io.WriteString(f, "Hello, world\nsecond line"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if f.Tell() != 24 {
		t.Fatalf("expected cursor 24, got %d", f.Tell())
	}

	pos, err := f.Seek(-4, io.SeekEnd)
	if err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if pos != 20 {
		t.Fatalf("expected pos 20, got %d", pos)
	}
	buf := make([]byte, 10)
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "line" {
		t.Fatalf("expected %q, got %q", "line", buf[:n])
	}
	if _, err := f.Read(buf); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}

	_, err = f.Seek(-1, io.SeekStart)
	wantErrno(t, err, EINVAL)
	_, err = f.Seek(0, 7)
	wantErrno(t, err, EINVAL)
}

func TestFS_PreadPwrite(t *testing.T) {
	fsys := newTestFS(t)

	f, err := fsys.Create("/p")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt([]byte("abcdef"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if _, err := f.WriteAt([]byte("XY"), 2); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if f.Tell() != 0 {
		t.Fatalf("pwrite moved the cursor to %d", f.Tell())
	}

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 1)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(buf[:n]) != "bXYe" {
		t.Fatalf("expected %q, got %q", "bXYe", buf[:n])
	}

	n, err = f.ReadAt(buf, 4)
	if err != io.EOF || string(buf[:n]) != "ef" {
		t.Fatalf("expected short read %q with io.EOF, got %q, %v", "ef", buf[:n], err)
	}
}

func TestFS_CrossChunkWrite(t *testing.T) {
	fsys := newTestFS(t)

	f, err := fsys.Create("/big")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()

	data := bytes.Repeat([]byte("0123456789"), 5000)
	if _, err := f.WriteAt(data, 16000); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	got := make([]byte, len(data))
	if _, err := f.ReadAt(got, 16000); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("cross-chunk data mismatch")
	}
}

func TestFS_Append(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.WriteFile("/log", []byte("one\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	f, err := fsys.Open("/log", O_WRONLY|O_APPEND, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !f.IsAppend() {
		t.Fatal("expected append mode")
	}
	if _, err := f.Write([]byte("two\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := f.WriteAt([]byte("three\n"), 0); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	f.Close()

	data, err := fsys.ReadFile("/log")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "one\ntwo\nthree\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestFS_ZeroLengthWrite(t *testing.T) {
	fsys := newTestFS(t)

	f, err := fsys.Create("/z")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(nil, 5000); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	st, _ := f.Stat()
	if st.Size != 0 {
		t.Fatalf("zero-length write changed size to %d", st.Size)
	}
}

func TestFS_Truncate(t *testing.T) {
	fsys := newTestFS(t)

	data := bytes.Repeat([]byte{0xff}, 40000)
	if err := fsys.WriteFile("/t", data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fsys.Truncate("/t", 20000); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if err := fsys.Truncate("/t", 30000); err != nil {
		t.Fatalf("Truncate grow failed: %v", err)
	}

	got, err := fsys.ReadFile("/t")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := make([]byte, 30000)
	copy(want, data[:20000])
	if !bytes.Equal(got, want) {
		t.Fatal("truncated region did not read back as zeros")
	}

	st, _ := fsys.Stat("/t")
	if st.Blocks > (st.Size+511)/512 {
		t.Fatalf("blocks %d exceed ceil(size/512) for size %d", st.Blocks, st.Size)
	}

	wantErrno(t, fsys.Truncate("/t", -1), EINVAL)
	wantErrno(t, fsys.Truncate("/", 0), EISDIR)
	wantErrno(t, fsys.Truncate("/missing", 0), ENOENT)
}

func TestFS_UnlinkRmdir(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.MkdirAll("/d/sub", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := fsys.WriteFile("/d/f", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	wantErrno(t, fsys.Unlink("/d"), EISDIR)
	wantErrno(t, fsys.Rmdir("/d"), ENOTEMPTY)
	wantErrno(t, fsys.Rmdir("/d/f"), ENOTDIR)
	wantErrno(t, fsys.Rmdir("/"), EBUSY)

	if err := fsys.Unlink("/d/f"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if err := fsys.Rmdir("/d/sub"); err != nil {
		t.Fatalf("Rmdir failed: %v", err)
	}
	if err := fsys.Rmdir("/d"); err != nil {
		t.Fatalf("Rmdir failed: %v", err)
	}
	wantErrno(t, fsys.Unlink("/d/f"), ENOENT)

	st, _ := fsys.Stat("/")
	if st.Nlink != 2 {
		t.Fatalf("expected root nlink 2, got %d", st.Nlink)
	}
}

func TestFS_UnlinkOpenFile(t *testing.T) {
	st := store.NewMemory(store.Chunk4K)
	fsys, err := New(st)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer fsys.Close()

	f, err := fsys.Create("/f")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := f.Write([]byte("still here")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := fsys.Unlink("/f"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}

	buf := make([]byte, 10)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt after unlink failed: %v", err)
	}
	if string(buf) != "still here" {
		t.Fatalf("unexpected content %q", buf)
	}
	if st.Len() != 1 {
		t.Fatalf("expected 1 chunk while open, got %d", st.Len())
	}

	f.Close()
	if st.Len() != 0 {
		t.Fatalf("expected chunks released after close, got %d", st.Len())
	}
}

func TestFS_Rename(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.MkdirAll("/a/b", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := fsys.Mkdir("/c", 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := fsys.WriteFile("/a/f", []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fsys.WriteFile("/c/g", []byte("old"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := fsys.Rename("/a/f", "/c/g"); err != nil {
		t.Fatalf("Rename over file failed: %v", err)
	}
	data, err := fsys.ReadFile("/c/g")
	if err != nil || string(data) != "data" {
		t.Fatalf("expected renamed content %q, got %q (%v)", "data", data, err)
	}
	if _, err := fsys.Stat("/a/f"); ErrnoOf(err) != ENOENT {
		t.Fatalf("expected source gone, got %v", err)
	}

	wantErrno(t, fsys.Rename("/a", "/a/b/x"), EINVAL)
	wantErrno(t, fsys.Rename("/c/g", "/a"), EISDIR)
	wantErrno(t, fsys.Rename("/a", "/c/g"), ENOTDIR)
	wantErrno(t, fsys.Rename("/missing", "/x"), ENOENT)

	if err := fsys.Rename("/a/b", "/c/b"); err != nil {
		t.Fatalf("Rename dir failed: %v", err)
	}
	sa, _ := fsys.Stat("/a")
	sc, _ := fsys.Stat("/c")
	if sa.Nlink != 2 || sc.Nlink != 3 {
		t.Fatalf("unexpected nlink after dir move: a=%d c=%d", sa.Nlink, sc.Nlink)
	}
	if err := fsys.Mkdir("/c/b/inner", 0o755); err != nil {
		t.Fatalf("Mkdir in moved dir failed: %v", err)
	}
}

func TestFS_HardLink(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.WriteFile("/orig", []byte("shared"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fsys.Link("/orig", "/alias"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	a, _ := fsys.Stat("/orig")
	b, _ := fsys.Stat("/alias")
	if a.Ino != b.Ino || a.Nlink != 2 {
		t.Fatalf("expected shared inode with nlink 2, got %d/%d nlink %d", a.Ino, b.Ino, a.Nlink)
	}

	if err := fsys.Unlink("/orig"); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	data, err := fsys.ReadFile("/alias")
	if err != nil || string(data) != "shared" {
		t.Fatalf("expected %q through link, got %q (%v)", "shared", data, err)
	}

	if err := fsys.Mkdir("/d", 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	wantErrno(t, fsys.Link("/d", "/d2"), EPERM)
	wantErrno(t, fsys.Link("/alias", "/d"), EEXIST)
}

func TestFS_Symlink(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.MkdirAll("/data/inner", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := fsys.WriteFile("/data/inner/f", []byte("via link"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fsys.Symlink("data/inner", "/ln"); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}

	target, err := fsys.Readlink("/ln")
	if err != nil || target != "data/inner" {
		t.Fatalf("expected target %q, got %q (%v)", "data/inner", target, err)
	}
	data, err := fsys.ReadFile("/ln/f")
	if err != nil || string(data) != "via link" {
		t.Fatalf("expected content through symlink, got %q (%v)", data, err)
	}

	lst, _ := fsys.Lstat("/ln")
	st, _ := fsys.Stat("/ln")
	if lst.Type() != FileTypeSymbolicLink || st.Type() != FileTypeDirectory {
		t.Fatalf("expected lstat symlink and stat directory, got %s and %s", lst.Type(), st.Type())
	}

	_, err = fsys.Readlink("/data")
	wantErrno(t, err, EINVAL)

	if err := fsys.Symlink("/loop2", "/loop1"); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}
	if err := fsys.Symlink("/loop1", "/loop2"); err != nil {
		t.Fatalf("Symlink failed: %v", err)
	}
	_, err = fsys.Stat("/loop1")
	wantErrno(t, err, ELOOP)

	_, err = fsys.Open("/ln", O_RDONLY|O_NOFOLLOW, 0)
	wantErrno(t, err, ELOOP)
}

func TestFS_ReadDir(t *testing.T) {
	fsys := newTestFS(t)

	for _, name := range []string{"/c", "/a", "/b"} {
		if err := fsys.WriteFile(name, nil, 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	if err := fsys.Mkdir("/dir", 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	entries, err := fsys.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "dir"}, names); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
	if entries[3].Type != FileTypeDirectory {
		t.Fatalf("expected dir entry type, got %s", entries[3].Type)
	}

	d, err := fsys.Open("/", O_RDONLY|O_DIRECTORY, 0)
	if err != nil {
		t.Fatalf("Open dir failed: %v", err)
	}
	defer d.Close()

	first, _ := d.Readdir(3)
	rest, _ := d.Readdir(0)
	if len(first) != 3 || len(rest) != 1 {
		t.Fatalf("expected 3+1 entries, got %d+%d", len(first), len(rest))
	}
	if _, err := d.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("rewind failed: %v", err)
	}
	again, _ := d.Readdir(-1)
	if len(again) != 4 {
		t.Fatalf("expected 4 entries after rewind, got %d", len(again))
	}
	_, err = d.Seek(5, io.SeekStart)
	wantErrno(t, err, EISDIR)

	_, err = fsys.ReadDir("/a")
	wantErrno(t, err, ENOTDIR)
}

func TestFS_ChmodUtimens(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.WriteFile("/f", nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fsys.Chmod("/f", 0o400); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	_, err := fsys.Open("/f", O_WRONLY, 0)
	wantErrno(t, err, EACCES)

	at := time.Unix(100, 0)
	mt := time.Unix(200, 0)
	if err := fsys.Utimens("/f", at, time.Time{}); err != nil {
		t.Fatalf("Utimens failed: %v", err)
	}
	st, _ := fsys.Stat("/f")
	if !st.Atime.Equal(at) || !st.Mtime.Equal(epoch) {
		t.Fatalf("unexpected times atime=%v mtime=%v", st.Atime, st.Mtime)
	}
	if err := fsys.Utimens("/f", time.Time{}, mt); err != nil {
		t.Fatalf("Utimens failed: %v", err)
	}
	st, _ = fsys.Stat("/f")
	if !st.Atime.Equal(at) || !st.Mtime.Equal(mt) {
		t.Fatalf("unexpected times atime=%v mtime=%v", st.Atime, st.Mtime)
	}
	if st.Mode != ModeRegular|0o400 {
		t.Fatalf("expected mode 100400, got %s", st.Mode)
	}
}

func TestFS_Descriptors(t *testing.T) {
	fsys := newTestFS(t)

	a, _ := fsys.Create("/a")
	b, _ := fsys.Create("/b")
	if a.Fd() != 3 || b.Fd() != 4 {
		t.Fatalf("expected fds 3 and 4, got %d and %d", a.Fd(), b.Fd())
	}

	got, err := fsys.File(4)
	if err != nil || got != b {
		t.Fatalf("File(4) did not return the open file: %v", err)
	}

	if err := fsys.CloseFd(3); err != nil {
		t.Fatalf("CloseFd failed: %v", err)
	}
	wantErrno(t, fsys.CloseFd(3), EBADF)
	wantErrno(t, a.Close(), EBADF)
	_, err = fsys.File(3)
	wantErrno(t, err, EBADF)

	c, _ := fsys.Create("/c")
	if c.Fd() != 3 {
		t.Fatalf("expected closed fd 3 to be reused, got %d", c.Fd())
	}
	if fsys.OpenFiles() != 2 {
		t.Fatalf("expected 2 open files, got %d", fsys.OpenFiles())
	}
}

func TestFS_PersistBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.db")

	st, err := store.OpenBolt(path, store.Chunk4K)
	if err != nil {
		t.Fatalf("OpenBolt failed: %v", err)
	}
	fsys, err := New(st)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := fsys.MkdirAll("/tmp/test", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	payload := bytes.Repeat([]byte("persist"), 2000)
	if err := fsys.WriteFile("/tmp/test/f", payload, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	before, _ := fsys.Stat("/tmp/test/f")
	if err := fsys.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	st, err = store.OpenBolt(path, store.Chunk4K)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	fsys, err = New(st)
	if err != nil {
		t.Fatalf("New on reopened store failed: %v", err)
	}
	defer fsys.Close()

	after, err := fsys.Stat("/tmp/test/f")
	if err != nil {
		t.Fatalf("Stat after reopen failed: %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("stat changed across reopen (-before +after):\n%s", diff)
	}
	data, err := fsys.ReadFile("/tmp/test/f")
	if err != nil || !bytes.Equal(data, payload) {
		t.Fatalf("content changed across reopen: %v", err)
	}

	f, err := fsys.Create("/new")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()
	fst, _ := f.Stat()
	if fst.Ino <= after.Ino {
		t.Fatalf("inode %d reused after reopen (last %d)", fst.Ino, after.Ino)
	}
}

func TestFS_CorruptSnapshot(t *testing.T) {
	st := store.NewMemory(store.Chunk4K)
	if err := st.SaveMeta([]byte("{not json")); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}
	if _, err := New(st); err == nil {
		t.Fatal("expected error for corrupt namespace")
	}

	if err := st.SaveMeta([]byte(`{"version":1,"inodes":[]}`)); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}
	if _, err := New(st); err == nil {
		t.Fatal("expected error for namespace without root")
	}
}

func TestFS_Closed(t *testing.T) {
	fsys, err := New(store.NewMemory(store.Chunk4K))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f, _ := fsys.Create("/f")
	if err := fsys.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_, err = f.Write([]byte("x"))
	wantErrno(t, err, EBADF)
	_, err = fsys.Create("/g")
	wantErrno(t, err, EBADF)
}

package probe

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/wippyai/canister-fs/host"
	"github.com/wippyai/canister-fs/vfs"
)

const (
	greeting    = "Hello, "
	contentFile = "content.txt"

	// statOffset is where test_stat writes its single byte.
	statOffset = 1011
)

// Greet writes "Hello, " followed by the argument to content.txt, reads the
// first line back and replies with it.
func Greet(_ context.Context, env *Env) error {
	arg, err := host.ReadArg(env.Host, env.MaxArgSize)
	if err != nil {
		return err
	}

	if err := env.FS.WriteFile(contentFile, []byte(greeting+string(arg)), 0o644); err != nil {
		return err
	}

	f, err := env.FS.Open(contentFile, vfs.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	line = strings.TrimSuffix(line, "\n")

	if err := env.Host.ReplyDataAppend([]byte(line)); err != nil {
		return err
	}
	return env.Host.Reply()
}

// TestAccess creates ./tmp and ./tmp/test if absent and logs the result of
// existence, read and write checks on ./tmp.
func TestAccess(_ context.Context, env *Env) error {
	h := env.Host
	host.Printf(h, "Testing access")

	for _, dir := range []string{"./tmp", "./tmp/test"} {
		if err := env.FS.Mkdir(dir, 0o777); err != nil && vfs.ErrnoOf(err) != vfs.EEXIST {
			host.Printf(h, "mkdir %s returns %d (%s)", dir, vfs.Code(err), vfs.ErrnoOf(err).Name())
		}
	}

	for _, mode := range []vfs.AccessMode{vfs.F_OK, vfs.R_OK, vfs.W_OK} {
		rc := vfs.Code(env.FS.Access("./tmp", mode))
		host.Printf(h, "access %s = %d (flag %d)", mode, rc, int(mode))
	}

	host.Printf(h, "Done testing!")
	return h.Reply()
}

// TestStat writes one byte at offset 1011 of /tmp, then stats ./tmp and logs
// every metadata field. When ./tmp is already a directory the write fails
// with EISDIR and the stat reports the directory.
func TestStat(_ context.Context, env *Env) error {
	h := env.Host
	host.Printf(h, "Testing stat")

	writeSparse(h, env.FS, "/tmp", statOffset, []byte("a"))

	st, err := env.FS.Stat("./tmp")
	rc := 0
	if err != nil {
		rc = -1
	}
	host.Printf(h, "stat returns %d", rc)
	if err != nil {
		host.Printf(h, "errno %d (%s)", vfs.ErrnoOf(err), vfs.ErrnoOf(err).Name())
		host.Printf(h, "Done testing!")
		return h.Reply()
	}

	host.Printf(h, "%s", st.Type())
	host.Printf(h, "I-node number:            %d", st.Ino)
	host.Printf(h, "Mode %s (octal)", st.Mode)
	host.Printf(h, "Link count %d", st.Nlink)
	host.Printf(h, "Ownership:                UID=%d   GID=%d", st.UID, st.GID)
	host.Printf(h, "Preferred I/O block size: %d bytes", st.Blksize)
	host.Printf(h, "File size:                %d bytes", st.Size)
	host.Printf(h, "Blocks allocated:         %d", st.Blocks)
	host.Printf(h, "Done testing!")
	return h.Reply()
}

// writeSparse opens name for writing, seeks to off and writes data. Failures
// are logged, not returned.
func writeSparse(h host.Host, fsys *vfs.FS, name string, off int64, data []byte) {
	f, err := fsys.Open(name, vfs.O_WRONLY|vfs.O_CREATE|vfs.O_TRUNC, 0o644)
	if err != nil {
		host.Printf(h, "open %s returns %d (%s)", name, vfs.Code(err), vfs.ErrnoOf(err).Name())
		return
	}
	defer f.Close()

	if _, err := f.Seek(off, io.SeekStart); err != nil {
		host.Printf(h, "seek %s returns %d", name, vfs.Code(err))
		return
	}
	if _, err := f.Write(data); err != nil {
		host.Printf(h, "write %s returns %d", name, vfs.Code(err))
	}
}

package probe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/wippyai/canister-fs/errors"
	"github.com/wippyai/canister-fs/host"
	"github.com/wippyai/canister-fs/vfs"
)

// hashBufSize is the read size used while hashing files.
const hashBufSize = 4096

func readPath(env *Env) (string, error) {
	arg, err := host.ReadArg(env.Host, env.MaxArgSize)
	if err != nil {
		return "", err
	}
	p := strings.TrimSpace(string(arg))
	if p == "" {
		return "", errors.InvalidInput(errors.PhaseProbe, "path argument is empty")
	}
	return p, nil
}

func replyString(h host.Host, s string) error {
	if err := h.ReplyDataAppend([]byte(s)); err != nil {
		return err
	}
	return h.Reply()
}

// WriteFile takes "path\ncontent" and replaces the file content.
func WriteFile(_ context.Context, env *Env) error {
	arg, err := host.ReadArg(env.Host, env.MaxArgSize)
	if err != nil {
		return err
	}
	name, content, ok := strings.Cut(string(arg), "\n")
	if !ok || name == "" {
		return errors.InvalidInput(errors.PhaseProbe, `argument must be "path\ncontent"`)
	}
	host.Printf(env.Host, "Writing file: %q", name)
	if err := env.FS.WriteFile(name, []byte(content), 0o644); err != nil {
		return err
	}
	return env.Host.Reply()
}

// ReadFile replies with the content of the file named by the argument.
func ReadFile(_ context.Context, env *Env) error {
	name, err := readPath(env)
	if err != nil {
		return err
	}
	host.Printf(env.Host, "Reading file: %q", name)
	data, err := env.FS.ReadFileLimit(name, env.replyLimit())
	if err != nil {
		return err
	}
	return replyString(env.Host, string(data))
}

// CreateDirAll creates the directory named by the argument and its parents.
func CreateDirAll(_ context.Context, env *Env) error {
	name, err := readPath(env)
	if err != nil {
		return err
	}
	host.Printf(env.Host, "Creating directory: %s", name)
	if err := env.FS.MkdirAll(name, 0o777); err != nil {
		return err
	}
	return env.Host.Reply()
}

// ReadDir replies with the paths of the directory's entries, one per line.
func ReadDir(_ context.Context, env *Env) error {
	name, err := readPath(env)
	if err != nil {
		return err
	}
	host.Printf(env.Host, "Reading directory: %s", name)
	entries, err := env.FS.ReadDir(name)
	if err != nil {
		return err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, joinPath(name, e.Name))
	}
	return replyString(env.Host, strings.Join(paths, "\n"))
}

// FileHash replies with the hex SHA-256 of the file named by the argument.
func FileHash(_ context.Context, env *Env) error {
	name, err := readPath(env)
	if err != nil {
		return err
	}
	sum, err := hashFile(env.FS, name)
	if err != nil {
		return err
	}
	return replyString(env.Host, sum)
}

// ScanDirectory walks the tree under the argument and replies with one
// sorted line per entry: "dir N/." with the entry count for directories and
// "file <sha256>" for regular files. Symlinks are skipped.
func ScanDirectory(_ context.Context, env *Env) error {
	root, err := readPath(env)
	if err != nil {
		return err
	}
	var lines []string
	if err := scan(env.FS, root, &lines); err != nil {
		return err
	}
	sort.Strings(lines)
	return replyString(env.Host, strings.Join(lines, "\n"))
}

func scan(fsys *vfs.FS, p string, lines *[]string) error {
	st, err := fsys.Lstat(p)
	if err != nil {
		return err
	}

	switch {
	case st.Mode.IsDir():
		entries, err := fsys.ReadDir(p)
		if err != nil {
			return err
		}
		*lines = append(*lines, fmt.Sprintf("%s %d/.", p, len(entries)))
		for _, e := range entries {
			if err := scan(fsys, joinPath(p, e.Name), lines); err != nil {
				return err
			}
		}
	case st.Mode.IsRegular():
		sum, err := hashFile(fsys, p)
		if err != nil {
			return err
		}
		*lines = append(*lines, p+" "+sum)
	}
	return nil
}

func hashFile(fsys *vfs.FS, name string) (string, error) {
	f, err := fsys.Open(name, vfs.O_RDONLY, 0)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, hashBufSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// joinPath appends name to dir the way the caller spelled dir, so "." yields
// "./name".
func joinPath(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

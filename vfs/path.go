package vfs

import (
	"path"
	"strings"
)

const (
	maxNameLen      = 255
	maxSymlinkDepth = 40
)

// splitPath returns the non-empty components of p, keeping "." and "..".
// The root itself yields no components. A trailing slash is reported
// separately because it requires the final entry to be a directory.
func splitPath(p string) (comps []string, trailing bool, errno Errno) {
	if p == "" {
		return nil, false, ENOENT
	}
	for _, c := range strings.Split(p, "/") {
		if c == "" {
			continue
		}
		if len(c) > maxNameLen {
			return nil, false, ENAMETOOLONG
		}
		comps = append(comps, c)
	}
	trailing = len(comps) > 0 && strings.HasSuffix(p, "/")
	return comps, trailing, 0
}

// CleanPath returns the lexically canonical absolute form of p. It is meant
// for display; lookups resolve dot entries against the tree.
func CleanPath(p string) string {
	return path.Clean("/" + p)
}

// resolved is the outcome of walking a path.
type resolved struct {
	parent *inode // directory holding the final component
	node   *inode // nil when the final component does not exist
	name   string // final component, empty for the root
	path   string // canonical absolute path after symlink expansion

	// dirOnly is set when the path ended in a slash, so a missing final
	// component may only be created as a directory.
	dirOnly bool
}

func (fsys *FS) resolve(p string, followLast bool) (resolved, Errno) {
	return fsys.resolveDepth(p, followLast, 0)
}

// resolveDepth walks p one component at a time from the root. "." stays in
// the current directory and ".." moves to the parent inode, so both require
// the entry they are applied to be a directory.
func (fsys *FS) resolveDepth(p string, followLast bool, depth int) (resolved, Errno) {
	comps, trailing, errno := splitPath(p)
	if errno != 0 {
		return resolved{}, errno
	}
	if trailing {
		followLast = true
	}

	root := fsys.inodes[rootIno]
	dirs := []*inode{root}
	var names []string

	canonical := func(extra string) string {
		parts := names
		if extra != "" {
			parts = append(parts[:len(parts):len(parts)], extra)
		}
		return "/" + strings.Join(parts, "/")
	}

	for i, name := range comps {
		cur := dirs[len(dirs)-1]
		last := i == len(comps)-1

		switch name {
		case ".":
			continue
		case "..":
			if len(dirs) > 1 {
				dirs = dirs[:len(dirs)-1]
				names = names[:len(names)-1]
			}
			continue
		}

		ino, ok := cur.children[name]
		if !ok {
			if !last {
				return resolved{}, ENOENT
			}
			return resolved{parent: cur, name: name, path: canonical(name), dirOnly: trailing}, 0
		}

		next := fsys.inodes[ino]
		if next.mode.IsSymlink() && (!last || followLast) {
			if depth >= maxSymlinkDepth {
				return resolved{}, ELOOP
			}
			target := next.target
			if !strings.HasPrefix(target, "/") {
				target = canonical("") + "/" + target
			}
			if rest := strings.Join(comps[i+1:], "/"); rest != "" {
				target += "/" + rest
			}
			if trailing {
				target += "/"
			}
			return fsys.resolveDepth(target, followLast, depth+1)
		}

		if last {
			if trailing && !next.mode.IsDir() {
				return resolved{}, ENOTDIR
			}
			return resolved{parent: cur, node: next, name: name, path: canonical(name)}, 0
		}
		if !next.mode.IsDir() {
			return resolved{}, ENOTDIR
		}
		dirs = append(dirs, next)
		names = append(names, name)
	}

	// The path ended on a dot entry or on the root: the directory on top of
	// the stack is the result.
	node := dirs[len(dirs)-1]
	if len(dirs) == 1 {
		return resolved{parent: root, node: root, path: "/"}, 0
	}
	return resolved{
		parent: dirs[len(dirs)-2],
		node:   node,
		name:   names[len(names)-1],
		path:   canonical(""),
	}, 0
}

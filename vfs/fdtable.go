package vfs

// firstFd is the lowest descriptor handed out; 0-2 belong to stdio.
const firstFd = 3

// fdTable maps descriptor numbers to open files. Closed numbers are reused
// most-recently-freed first. Callers hold FS.mu.
type fdTable struct {
	entries  []*File
	freeList []int
}

func (t *fdTable) insert(f *File) int {
	if n := len(t.freeList); n > 0 {
		fd := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[fd-firstFd] = f
		return fd
	}
	t.entries = append(t.entries, f)
	return len(t.entries) - 1 + firstFd
}

func (t *fdTable) get(fd int) (*File, bool) {
	idx := fd - firstFd
	if idx < 0 || idx >= len(t.entries) {
		return nil, false
	}
	f := t.entries[idx]
	return f, f != nil
}

func (t *fdTable) remove(fd int) (*File, bool) {
	f, ok := t.get(fd)
	if !ok {
		return nil, false
	}
	t.entries[fd-firstFd] = nil
	t.freeList = append(t.freeList, fd)
	return f, true
}

func (t *fdTable) each(fn func(fd int, f *File) bool) {
	for i, f := range t.entries {
		if f == nil {
			continue
		}
		if !fn(i+firstFd, f) {
			return
		}
	}
}

func (t *fdTable) len() int {
	return len(t.entries) - len(t.freeList)
}

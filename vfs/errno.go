package vfs

import (
	"errors"
	"io/fs"
	"strconv"
)

// Errno is a POSIX error number. Values follow Linux numbering.
type Errno uint16

const (
	EPERM        Errno = 1
	ENOENT       Errno = 2
	EIO          Errno = 5
	EBADF        Errno = 9
	EACCES       Errno = 13
	EBUSY        Errno = 16
	EEXIST       Errno = 17
	ENOTDIR      Errno = 20
	EISDIR       Errno = 21
	EINVAL       Errno = 22
	EFBIG        Errno = 27
	ESPIPE       Errno = 29
	ENAMETOOLONG Errno = 36
	ENOSYS       Errno = 38
	ENOTEMPTY    Errno = 39
	ELOOP        Errno = 40
)

var errnoTable = map[Errno][2]string{
	EPERM:        {"EPERM", "operation not permitted"},
	ENOENT:       {"ENOENT", "no such file or directory"},
	EIO:          {"EIO", "input/output error"},
	EBADF:        {"EBADF", "bad file descriptor"},
	EACCES:       {"EACCES", "permission denied"},
	EBUSY:        {"EBUSY", "device or resource busy"},
	EEXIST:       {"EEXIST", "file exists"},
	ENOTDIR:      {"ENOTDIR", "not a directory"},
	EISDIR:       {"EISDIR", "is a directory"},
	EINVAL:       {"EINVAL", "invalid argument"},
	EFBIG:        {"EFBIG", "file too large"},
	ESPIPE:       {"ESPIPE", "illegal seek"},
	ENAMETOOLONG: {"ENAMETOOLONG", "file name too long"},
	ENOSYS:       {"ENOSYS", "function not implemented"},
	ENOTEMPTY:    {"ENOTEMPTY", "directory not empty"},
	ELOOP:        {"ELOOP", "too many levels of symbolic links"},
}

func (e Errno) Error() string {
	if t, ok := errnoTable[e]; ok {
		return t[1]
	}
	return "errno " + strconv.Itoa(int(e))
}

// Name returns the symbolic name, e.g. "ENOENT".
func (e Errno) Name() string {
	if t, ok := errnoTable[e]; ok {
		return t[0]
	}
	return "E" + strconv.Itoa(int(e))
}

// Is lets errors.Is match Errno values against the io/fs sentinels.
func (e Errno) Is(target error) bool {
	switch target {
	case fs.ErrNotExist:
		return e == ENOENT
	case fs.ErrExist:
		return e == EEXIST || e == ENOTEMPTY
	case fs.ErrPermission:
		return e == EACCES || e == EPERM
	case fs.ErrInvalid:
		return e == EINVAL
	case fs.ErrClosed:
		return e == EBADF
	}
	return false
}

// PathError records a failed operation on a path.
type PathError struct {
	Cause error
	Op    string
	Path  string
	Err   Errno
}

func (e *PathError) Error() string {
	msg := e.Op + " " + e.Path + ": " + e.Err.Error()
	if e.Cause != nil {
		msg += " (" + e.Cause.Error() + ")"
	}
	return msg
}

func (e *PathError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// ErrnoOf extracts the Errno carried by err. Errors that carry none map to EIO.
func ErrnoOf(err error) Errno {
	if err == nil {
		return 0
	}
	var errno Errno
	if errors.As(err, &errno) {
		return errno
	}
	return EIO
}

// Code converts err to a C-style return code: 0 on success, -errno otherwise.
func Code(err error) int {
	return -int(ErrnoOf(err))
}

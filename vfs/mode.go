package vfs

import (
	"fmt"
	"io/fs"
	"strings"

	"github.com/wippyai/canister-fs/errors"
)

// Mode holds POSIX st_mode bits: file type plus permissions.
type Mode uint32

const (
	ModeType    Mode = 0o170000
	ModeSocket  Mode = 0o140000
	ModeSymlink Mode = 0o120000
	ModeRegular Mode = 0o100000
	ModeBlock   Mode = 0o060000
	ModeDir     Mode = 0o040000
	ModeChar    Mode = 0o020000
	ModeFIFO    Mode = 0o010000

	ModePerm Mode = 0o777
)

// FileType classifies the type bits of a Mode.
type FileType uint8

const (
	FileTypeUnknown FileType = iota
	FileTypeBlockDevice
	FileTypeCharacterDevice
	FileTypeDirectory
	FileTypeFifo
	FileTypeSymbolicLink
	FileTypeRegularFile
	FileTypeSocket
)

func (t FileType) String() string {
	switch t {
	case FileTypeBlockDevice:
		return "block device"
	case FileTypeCharacterDevice:
		return "character device"
	case FileTypeDirectory:
		return "directory"
	case FileTypeFifo:
		return "FIFO/pipe"
	case FileTypeSymbolicLink:
		return "symlink"
	case FileTypeRegularFile:
		return "regular file"
	case FileTypeSocket:
		return "socket"
	default:
		return "unknown?"
	}
}

// Type returns the file type encoded in m.
func (m Mode) Type() FileType {
	switch m & ModeType {
	case ModeBlock:
		return FileTypeBlockDevice
	case ModeChar:
		return FileTypeCharacterDevice
	case ModeDir:
		return FileTypeDirectory
	case ModeFIFO:
		return FileTypeFifo
	case ModeSymlink:
		return FileTypeSymbolicLink
	case ModeRegular:
		return FileTypeRegularFile
	case ModeSocket:
		return FileTypeSocket
	default:
		return FileTypeUnknown
	}
}

func (m Mode) Perm() Mode {
	return m & ModePerm
}

func (m Mode) IsDir() bool {
	return m&ModeType == ModeDir
}

func (m Mode) IsRegular() bool {
	return m&ModeType == ModeRegular
}

func (m Mode) IsSymlink() bool {
	return m&ModeType == ModeSymlink
}

// FileMode converts m to the io/fs representation.
func (m Mode) FileMode() fs.FileMode {
	fm := fs.FileMode(m.Perm())
	switch m.Type() {
	case FileTypeDirectory:
		fm |= fs.ModeDir
	case FileTypeSymbolicLink:
		fm |= fs.ModeSymlink
	case FileTypeFifo:
		fm |= fs.ModeNamedPipe
	case FileTypeSocket:
		fm |= fs.ModeSocket
	case FileTypeCharacterDevice:
		fm |= fs.ModeDevice | fs.ModeCharDevice
	case FileTypeBlockDevice:
		fm |= fs.ModeDevice
	case FileTypeUnknown:
		fm |= fs.ModeIrregular
	}
	return fm
}

// Mode returns the type bits for t.
func (t FileType) Mode() Mode {
	switch t {
	case FileTypeBlockDevice:
		return ModeBlock
	case FileTypeCharacterDevice:
		return ModeChar
	case FileTypeDirectory:
		return ModeDir
	case FileTypeFifo:
		return ModeFIFO
	case FileTypeSymbolicLink:
		return ModeSymlink
	case FileTypeRegularFile:
		return ModeRegular
	case FileTypeSocket:
		return ModeSocket
	}
	return 0
}

// String renders m in octal, the way stat(1) prints st_mode.
func (m Mode) String() string {
	return fmt.Sprintf("%o", uint32(m))
}

// AccessMode is the mode argument of access(2).
type AccessMode uint8

const (
	F_OK AccessMode = 0
	X_OK AccessMode = 1
	W_OK AccessMode = 2
	R_OK AccessMode = 4
)

func (a AccessMode) String() string {
	if a == F_OK {
		return "F_OK"
	}
	var parts []string
	if a&R_OK != 0 {
		parts = append(parts, "R_OK")
	}
	if a&W_OK != 0 {
		parts = append(parts, "W_OK")
	}
	if a&X_OK != 0 {
		parts = append(parts, "X_OK")
	}
	return strings.Join(parts, "|")
}

// Flag holds open(2) flags. Values are platform independent.
type Flag int

const (
	O_RDONLY    Flag = 0x0
	O_WRONLY    Flag = 0x1
	O_RDWR      Flag = 0x2
	O_ACCMODE   Flag = 0x3
	O_CREATE    Flag = 0x40
	O_EXCL      Flag = 0x80
	O_TRUNC     Flag = 0x200
	O_APPEND    Flag = 0x400
	O_DIRECTORY Flag = 0x10000
	O_NOFOLLOW  Flag = 0x20000
)

func (f Flag) readable() bool {
	return f&O_ACCMODE == O_RDONLY || f&O_ACCMODE == O_RDWR
}

func (f Flag) writable() bool {
	return f&O_ACCMODE == O_WRONLY || f&O_ACCMODE == O_RDWR
}

// AllocPolicy selects how Stat.Blocks is accounted.
type AllocPolicy uint8

const (
	// AllocSparse counts only chunks that received data.
	AllocSparse AllocPolicy = iota
	// AllocDense reports every byte up to Size as allocated.
	AllocDense
)

func (p AllocPolicy) String() string {
	if p == AllocDense {
		return "dense"
	}
	return "sparse"
}

// ParseAllocPolicy accepts "sparse" or "dense".
func ParseAllocPolicy(s string) (AllocPolicy, error) {
	switch strings.ToLower(s) {
	case "", "sparse":
		return AllocSparse, nil
	case "dense":
		return AllocDense, nil
	}
	return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown allocation policy %q", s))
}

// Package vfs implements the POSIX filesystem contract a canister polyfill
// must honour: open/read/write/seek/close, access, mkdir, stat, unlink,
// rename, links and symlinks over a chunked store.
//
// The namespace is single-rooted with the working directory fixed at "/",
// so "tmp", "./tmp" and "/tmp" name the same entry.
//
//	fsys, err := vfs.New(store.NewMemory(store.Chunk16K))
//	f, err := fsys.Open("/tmp", vfs.O_WRONLY|vfs.O_CREATE|vfs.O_TRUNC, 0o666)
//	f.Seek(1011, io.SeekStart)
//	f.Write([]byte("a"))
//	f.Close()
//	st, err := fsys.Stat("./tmp") // st.Size == 1012
//
// # Sparse files
//
// Writing past end-of-file leaves a gap that reads back as zeros. Only chunks
// that received data are allocated in the store. Stat.Blocks reports 512-byte
// units and never exceeds ceil(Size/512); with AllocSparse it counts only
// allocated chunks, with AllocDense it is exactly ceil(Size/512).
//
// # Errors
//
// Failures are returned as *PathError carrying an Errno. Errno values match
// Linux numbering and satisfy errors.Is against io/fs sentinels
// (fs.ErrNotExist, fs.ErrExist, fs.ErrPermission). Code converts an error to
// the negative return code a C caller would observe.
//
// # Thread Safety
//
// FS is safe for concurrent use. A File must not be used from more than one
// goroutine at a time.
package vfs

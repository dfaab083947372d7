// Package canisterfs provides a POSIX-style filesystem for sandboxed
// canisters together with the diagnostic probes that exercise it.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	canisterfs/
//	├── store/      Chunk storage: in-memory or bbolt-backed
//	├── vfs/        Inodes, paths, descriptors, stat and block accounting
//	├── host/       Boundary primitives of one call: argument, debug, reply
//	├── probe/      greet, test_access, test_stat and file probes
//	├── canister/   wazero runtime exposing ic0 and WASI over vfs
//	├── config/     TOML configuration
//	├── errors/     Structured error types for debugging
//	└── cmd/fsprobe Command line and terminal UI
//
// # Quick Start
//
// Dispatch a probe against a fresh filesystem:
//
//	fsys, _ := vfs.New(store.NewMemory(store.DefaultChunkSize))
//	defer fsys.Close()
//
//	call := host.NewCall("greet", []byte("world"))
//	err := probe.Default().Dispatch(ctx, "greet", &probe.Env{Host: call, FS: fsys})
//	fmt.Println(string(call.Response().Payload)) // "Hello, world"
//
// # Namespace
//
// There is one root and the working directory is always "/", so "tmp",
// "./tmp" and "/tmp" name the same entry. Paths are walked one component at
// a time: ".." moves to the parent directory, and both ".." and a trailing
// slash after a non-directory fail with ENOTDIR. An empty path fails with
// ENOENT.
//
// # Memory Mounts
//
// FS.MountMemory backs a regular file with host memory (any io.ReaderAt and
// io.WriterAt). StoreMemory and InitMemory copy between the memory and the
// stored content.
//
// # Block Accounting
//
// Stat.Blocks counts 512-byte units. Under the default sparse policy only
// chunks that received data count, so a single byte written at offset 1011
// reports Size 1012 and Blocks 2. The dense policy reports every byte up to
// Size as allocated.
package canisterfs

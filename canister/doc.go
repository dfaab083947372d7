// Package canister runs WebAssembly canisters against the host boundary and
// the in-memory filesystem.
//
// A Runtime provides two import namespaces to every module it loads:
//
//   - ic0: debug_print, msg_arg_data_size, msg_arg_data_copy,
//     msg_reply_data_append, msg_reply, msg_reject and trap, backed by a
//     host.Call per invocation
//   - wasi_snapshot_preview1: with the runtime's vfs.FS mounted at "/", so
//     guests built against a POSIX libc see the same files as native probes
//
// Entry points are exported as "canister_query <name>" or
// "canister_update <name>" and take no parameters. Modules whose imports
// cannot all be satisfied are refused with a MissingImportsError before
// instantiation.
//
//	rt, _ := canister.New(ctx, canister.Config{FS: fsys})
//	inst, _ := rt.Load(ctx, wasm)
//	call, err := inst.Call(ctx, "greet", []byte("world"))
//	resp := call.Response()
package canister

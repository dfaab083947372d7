package canister

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/canister-fs/errors"
	"github.com/wippyai/canister-fs/host"
)

// SystemModule is the import namespace of the boundary primitives.
const SystemModule = "ic0"

var i32 = api.ValueTypeI32

type systemFunc struct {
	fn      api.GoModuleFunc
	name    string
	params  []api.ValueType
	results []api.ValueType
}

// systemFuncs maps the host.Host primitives onto guest-callable functions.
// Every pointer argument is a byte offset into the guest's exported memory.
func (r *Runtime) systemFuncs() []systemFunc {
	return []systemFunc{
		{
			name:   "debug_print",
			params: []api.ValueType{i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				call := mustCall(ctx)
				call.DebugPrint(readGuest(mod, "debug_print", stack[0], stack[1]))
			},
		},
		{
			name:    "msg_arg_data_size",
			results: []api.ValueType{i32},
			fn: func(ctx context.Context, _ api.Module, stack []uint64) {
				call := mustCall(ctx)
				stack[0] = api.EncodeU32(uint32(call.ArgDataSize()))
			},
		},
		{
			name:   "msg_arg_data_copy",
			params: []api.ValueType{i32, i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				call := mustCall(ctx)
				dst, off, size := api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
				if uint64(off)+uint64(size) > uint64(call.ArgDataSize()) {
					err := errors.OutOfBounds(errors.PhaseHost, int(off), int(size), call.ArgDataSize())
					err.Op = "arg-copy"
					panic(err)
				}
				buf := make([]byte, size)
				if err := call.ArgDataCopy(buf, int(off)); err != nil {
					panic(err)
				}
				if !mod.Memory().Write(dst, buf) {
					panic(errors.OutOfBounds(errors.PhaseHost, int(dst), int(size), int(mod.Memory().Size())))
				}
			},
		},
		{
			name:   "msg_reply_data_append",
			params: []api.ValueType{i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				call := mustCall(ctx)
				if err := call.ReplyDataAppend(readGuest(mod, "msg_reply_data_append", stack[0], stack[1])); err != nil {
					panic(err)
				}
			},
		},
		{
			name: "msg_reply",
			fn: func(ctx context.Context, _ api.Module, _ []uint64) {
				if err := mustCall(ctx).Reply(); err != nil {
					panic(err)
				}
			},
		},
		{
			name:   "msg_reject",
			params: []api.ValueType{i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				call := mustCall(ctx)
				if err := call.Reject(string(readGuest(mod, "msg_reject", stack[0], stack[1]))); err != nil {
					panic(err)
				}
			},
		},
		{
			name:   "trap",
			params: []api.ValueType{i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				msg := string(readGuest(mod, "trap", stack[0], stack[1]))
				Logger().Debug("guest trap", zap.String("msg", msg))
				panic(errors.New(errors.PhaseRuntime, errors.KindTrap).Op("trap").Detail("%s", msg).Build())
			},
		},
	}
}

// instantiateSystem registers the ic0 host module in rt.
func (r *Runtime) instantiateSystem(ctx context.Context, rt wazero.Runtime) (api.Module, error) {
	builder := rt.NewHostModuleBuilder(SystemModule)
	for _, f := range r.systemFuncs() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(f.fn, f.params, f.results).
			WithName(f.name).
			Export(f.name)
	}
	return builder.Instantiate(ctx)
}

// mustCall returns the call bound to ctx. System functions are only
// reachable through Instance.Call, which always binds one.
func mustCall(ctx context.Context) *host.Call {
	call, ok := host.CallFrom(ctx)
	if !ok {
		panic(errors.NotInitialized(errors.PhaseHost, "call context"))
	}
	return call
}

func readGuest(mod api.Module, op string, ptr, length uint64) []byte {
	p, n := api.DecodeU32(ptr), api.DecodeU32(length)
	data, ok := mod.Memory().Read(p, n)
	if !ok {
		err := errors.OutOfBounds(errors.PhaseHost, int(p), int(n), int(mod.Memory().Size()))
		err.Op = op
		panic(err)
	}
	// Memory.Read aliases guest memory.
	return append([]byte(nil), data...)
}

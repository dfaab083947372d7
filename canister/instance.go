package canister

import (
	"context"
	stderrors "errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/canister-fs/errors"
	"github.com/wippyai/canister-fs/host"
)

// Export name prefixes of canister entry points.
const (
	queryPrefix  = "canister_query "
	updatePrefix = "canister_update "
)

// ErrNoReply matches calls whose guest returned without committing.
var ErrNoReply = &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindInvalidData, Detail: "canister did not reply"}

// Instance is one instantiated canister. Calls are serialized.
type Instance struct {
	runtime  *Runtime
	compiled wazero.CompiledModule
	mod      api.Module
	current  atomic.Pointer[host.Call]
	id       string
	mu       sync.Mutex
}

// ID returns the unique instance identifier.
func (i *Instance) ID() string {
	return i.id
}

// Methods returns the exported entry point names in sorted order.
func (i *Instance) Methods() []string {
	seen := make(map[string]struct{})
	for name := range i.compiled.ExportedFunctions() {
		switch {
		case strings.HasPrefix(name, queryPrefix):
			seen[strings.TrimPrefix(name, queryPrefix)] = struct{}{}
		case strings.HasPrefix(name, updatePrefix):
			seen[strings.TrimPrefix(name, updatePrefix)] = struct{}{}
		}
	}
	methods := make([]string, 0, len(seen))
	for name := range seen {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

func (i *Instance) lookup(method string) api.Function {
	if fn := i.mod.ExportedFunction(queryPrefix + method); fn != nil {
		return fn
	}
	return i.mod.ExportedFunction(updatePrefix + method)
}

// Call invokes method with arg and returns the call holding the committed
// response. The call is returned even when err is non-nil: unknown methods,
// oversized arguments, traps and missing replies all leave a reject behind.
func (i *Instance) Call(ctx context.Context, method string, arg []byte) (*host.Call, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	call := host.NewCall(method, arg)
	log := Logger().With(zap.String("instance", i.id), zap.String("method", method), zap.String("call_id", call.ID()))

	fn := i.lookup(method)
	if fn == nil {
		err := errors.NotFound(errors.PhaseRuntime, "method", method)
		call.Reject(err.Error())
		log.Warn("unknown method")
		return call, err
	}
	if limit := i.runtime.maxArg; limit > 0 && len(arg) > limit {
		err := errors.TooLarge(errors.PhaseHost, "argument", len(arg), limit)
		call.Reject(err.Error())
		log.Warn("argument rejected", zap.Int("size", len(arg)), zap.Int("limit", limit))
		return call, err
	}

	i.current.Store(call)
	defer i.current.Store(nil)

	if _, err := fn.Call(host.WithCall(ctx, call)); err != nil {
		msg := trapMessage(err)
		call.Abort(msg)
		log.Debug("canister trapped", zap.String("reason", msg))
		return call, errors.Trap(method, err)
	}
	if !call.Committed() {
		call.Reject(ErrNoReply.Detail)
		log.Warn("canister did not reply")
		return call, errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Op(method).
			Detail("%s", ErrNoReply.Detail).
			Build()
	}
	return call, nil
}

// trapMessage extracts the reject message for a failed guest call. wazero
// appends a stack trace after the first line.
func trapMessage(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Kind == errors.KindTrap {
		return "canister trapped: " + e.Detail
	}
	first, _, _ := strings.Cut(err.Error(), "\n")
	return "canister trapped: " + first
}

// Close releases the instance.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	err := i.mod.Close(ctx)
	if cerr := i.compiled.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

// debugWriter forwards WASI stdout and stderr to the active call as debug
// lines. Output outside a call goes to the package logger.
type debugWriter struct {
	inst *Instance
}

func (w *debugWriter) Write(p []byte) (int, error) {
	text := strings.TrimSuffix(string(p), "\n")
	call := w.inst.current.Load()
	for _, line := range strings.Split(text, "\n") {
		if call != nil {
			call.DebugPrint([]byte(line))
		} else {
			Logger().Info("canister output", zap.String("instance", w.inst.id), zap.String("line", line))
		}
	}
	return len(p), nil
}

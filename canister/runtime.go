package canister

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"io"
	mrand "math/rand/v2"
	"sort"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental/sysfs"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/canister-fs/errors"
	"github.com/wippyai/canister-fs/host"
	"github.com/wippyai/canister-fs/vfs"
)

// Config configures a Runtime.
type Config struct {
	// FS is mounted at "/" for every loaded canister. Required.
	FS *vfs.FS

	// MaxArgSize bounds inbound arguments. Zero uses host.DefaultMaxArgSize,
	// a negative value disables the limit.
	MaxArgSize int

	// Env and Args are what guests read through environ_get and args_get.
	// Env is exposed sorted by key.
	Env  map[string]string
	Args []string

	// RandSeed makes random_get deterministic: every instance loaded with
	// the same seed observes the same stream. Nil draws from crypto/rand.
	RandSeed []byte
}

// Runtime compiles and instantiates canister modules against the ic0
// system API and WASI preview1 backed by a vfs.FS.
type Runtime struct {
	rt       wazero.Runtime
	fsys     *vfs.FS
	provided map[string]struct{}
	env      map[string]string
	args     []string
	seed     []byte
	maxArg   int
}

// New creates a runtime and registers its host modules.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.FS == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "filesystem is required")
	}
	maxArg := cfg.MaxArgSize
	if maxArg == 0 {
		maxArg = host.DefaultMaxArgSize
	}

	r := &Runtime{
		rt:       wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true)),
		fsys:     cfg.FS,
		provided: make(map[string]struct{}),
		env:      cfg.Env,
		args:     cfg.Args,
		seed:     cfg.RandSeed,
		maxArg:   maxArg,
	}

	wasi := r.rt.NewHostModuleBuilder(wasi_snapshot_preview1.ModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(wasi)
	wasiMod, err := wasi.Instantiate(ctx)
	if err != nil {
		r.rt.Close(ctx)
		return nil, errors.Instantiation(err)
	}
	sysMod, err := r.instantiateSystem(ctx, r.rt)
	if err != nil {
		r.rt.Close(ctx)
		return nil, errors.Instantiation(err)
	}
	r.provide(wasi_snapshot_preview1.ModuleName, wasiMod)
	r.provide(SystemModule, sysMod)

	Logger().Debug("runtime ready", zap.Int("host_functions", len(r.provided)))
	return r, nil
}

func (r *Runtime) provide(module string, mod api.Module) {
	for name := range mod.ExportedFunctionDefinitions() {
		r.provided[module+"#"+name] = struct{}{}
	}
}

// Close releases the runtime and every instance loaded from it.
func (r *Runtime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// FS returns the filesystem mounted into canisters.
func (r *Runtime) FS() *vfs.FS {
	return r.fsys
}

// Load compiles wasm, checks that every imported function is provided,
// instantiates it and runs its initializers (_initialize, then
// canister_init) when exported.
func (r *Runtime) Load(ctx context.Context, wasm []byte) (*Instance, error) {
	compiled, err := r.rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}

	if missing := r.missingImports(compiled); len(missing) > 0 {
		compiled.Close(ctx)
		return nil, errors.NewMissingImportsError(missing)
	}

	inst := &Instance{
		runtime:  r,
		compiled: compiled,
		id:       uuid.NewString(),
	}
	out := &debugWriter{inst: inst}

	fsConfig := wazero.NewFSConfig().(sysfs.FSConfig).WithSysFSMount(newGuestFS(r.fsys), "/")
	modConfig := wazero.NewModuleConfig().
		WithName("canister-" + inst.id).
		WithStartFunctions().
		WithFSConfig(fsConfig).
		WithStdout(out).
		WithStderr(out).
		WithSysWalltime().
		WithSysNanotime().
		WithArgs(r.args...).
		WithRandSource(r.randSource())
	keys := make([]string, 0, len(r.env))
	for k := range r.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		modConfig = modConfig.WithEnv(k, r.env[k])
	}

	mod, err := r.rt.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		compiled.Close(ctx)
		return nil, errors.Instantiation(err)
	}
	inst.mod = mod

	for _, name := range []string{"_initialize", "canister_init"} {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			continue
		}
		call := host.NewCall(name, nil)
		inst.current.Store(call)
		_, err := fn.Call(host.WithCall(ctx, call))
		inst.current.Store(nil)
		if err != nil {
			inst.Close(ctx)
			return nil, errors.Trap(name, err)
		}
	}

	log := Logger().With(zap.String("instance", inst.id))
	log.Debug("canister loaded", zap.Strings("methods", inst.Methods()))
	return inst, nil
}

func (r *Runtime) missingImports(compiled wazero.CompiledModule) []string {
	var missing []string
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		key := module + "#" + name
		if _, ok := r.provided[key]; !ok {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// randSource returns the random_get source for one instance.
func (r *Runtime) randSource() io.Reader {
	if r.seed == nil {
		return rand.Reader
	}
	return mrand.NewChaCha8(sha256.Sum256(r.seed))
}

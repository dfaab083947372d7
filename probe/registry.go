package probe

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/canister-fs/errors"
	"github.com/wippyai/canister-fs/host"
	"github.com/wippyai/canister-fs/vfs"
)

// Env is the context a handler runs in.
type Env struct {
	Host host.Host
	FS   *vfs.FS

	// MaxArgSize bounds the inbound argument. Zero disables the limit.
	MaxArgSize int

	// MaxReplySize bounds file content copied into a reply. Zero means
	// DefaultMaxReplySize.
	MaxReplySize int
}

// DefaultMaxReplySize matches the 2 MiB response limit of the platform.
const DefaultMaxReplySize = 2 << 20

func (e *Env) replyLimit() int64 {
	if e.MaxReplySize > 0 {
		return int64(e.MaxReplySize)
	}
	return DefaultMaxReplySize
}

// Handler is one entry point. A handler that returns without committing
// gets an empty reply; a handler error without a commit becomes a reject.
type Handler func(ctx context.Context, env *Env) error

// Registry maps entry point names to handlers.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Default returns a registry holding every built-in probe.
func Default() *Registry {
	r := NewRegistry()
	for name, h := range builtins {
		r.handlers[name] = h
	}
	return r
}

var builtins = map[string]Handler{
	"greet":          Greet,
	"test_access":    TestAccess,
	"test_stat":      TestStat,
	"write_file":     WriteFile,
	"read_file":      ReadFile,
	"create_dir_all": CreateDirAll,
	"read_dir":       ReadDir,
	"file_hash":      FileHash,
	"scan_directory": ScanDirectory,
}

// Register adds h under name. Names are unique.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return errors.InvalidInput(errors.PhaseProbe, "probe name and handler are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return errors.New(errors.PhaseProbe, errors.KindInvalidInput).
			Op("register").
			Detail("probe %q already registered", name).
			Build()
	}
	r.handlers[name] = h
	return nil
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the named probe against env and makes sure exactly one
// response is committed. Oversized arguments are rejected before the
// handler runs. The returned error describes why the call was rejected, if
// it was.
func (r *Registry) Dispatch(ctx context.Context, name string, env *Env) (err error) {
	log := Logger().With(zap.String("probe", name))
	if c, ok := env.Host.(*host.Call); ok {
		log = log.With(zap.String("call_id", c.ID()))
	}

	h, ok := r.Lookup(name)
	if !ok {
		err = errors.NotFound(errors.PhaseProbe, "probe", name)
		env.Host.Reject(err.Error())
		log.Warn("unknown probe")
		return err
	}

	if n := env.Host.ArgDataSize(); env.MaxArgSize > 0 && n > env.MaxArgSize {
		err = errors.TooLarge(errors.PhaseHost, "argument", n, env.MaxArgSize)
		env.Host.Reject(err.Error())
		log.Warn("argument rejected", zap.Int("size", n), zap.Int("limit", env.MaxArgSize))
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			err = errors.New(errors.PhaseProbe, errors.KindTrap).
				Op(name).
				Detail("panic: %v", p).
				Build()
			log.Error("probe panicked", zap.Any("panic", p))
		}
		if !env.Host.Committed() {
			if err != nil {
				env.Host.Reject(err.Error())
			} else {
				env.Host.Reply()
			}
		}
	}()

	if err = h(ctx, env); err != nil {
		log.Debug("probe failed", zap.Error(err))
		return fmt.Errorf("probe %s: %w", name, err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wippyai/canister-fs/canister"
	"github.com/wippyai/canister-fs/config"
	"github.com/wippyai/canister-fs/host"
	"github.com/wippyai/canister-fs/probe"
	"github.com/wippyai/canister-fs/store"
	"github.com/wippyai/canister-fs/vfs"
)

// app holds what every subcommand needs: configuration, logger, the
// filesystem and its metrics registry.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	fsys    *vfs.FS
	metrics *prometheus.Registry
	opts    *rootOptions
	maxArg  int
}

func newApp(opts *rootOptions) (*app, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}

	log, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	vfs.SetLogger(log.Named("vfs"))
	host.SetLogger(log.Named("host"))
	probe.SetLogger(log.Named("probe"))
	canister.SetLogger(log.Named("canister"))
	store.SetLogger(log.Named("store"))

	maxArg, err := cfg.MaxArgSize()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	fsys, err := cfg.NewFS(vfs.WithMetrics(reg))
	if err != nil {
		return nil, err
	}

	log.Debug("filesystem ready",
		zap.String("backend", cfg.Store.Backend),
		zap.String("chunk_size", cfg.FS.ChunkSize),
		zap.String("alloc_policy", cfg.FS.AllocPolicy))

	return &app{
		cfg:     cfg,
		log:     log,
		fsys:    fsys,
		metrics: reg,
		opts:    opts,
		maxArg:  maxArg,
	}, nil
}

// close persists and releases the filesystem.
func (a *app) close() error {
	if a.opts.stats {
		a.printStats(os.Stderr)
	}
	err := a.fsys.Close()
	a.log.Sync()
	return err
}

// callProbe dispatches one built-in probe.
func (a *app) callProbe(ctx context.Context, name string, payload []byte) (*host.Call, error) {
	call := host.NewCall(name, payload)
	env := &probe.Env{Host: call, FS: a.fsys, MaxArgSize: a.maxArg}
	err := probe.Default().Dispatch(ctx, name, env)
	if serr := a.fsys.Sync(); serr != nil && err == nil {
		err = serr
	}
	return call, err
}

// loadCanister starts a canister runtime over the app filesystem.
func (a *app) loadCanister(ctx context.Context, path string) (*canister.Runtime, *canister.Instance, error) {
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	rt, err := canister.New(ctx, canister.Config{
		FS:         a.fsys,
		MaxArgSize: a.maxArg,
		Env:        a.cfg.Canister.Env,
		Args:       a.cfg.Canister.Args,
		RandSeed:   a.cfg.Canister.Seed(),
	})
	if err != nil {
		return nil, nil, err
	}
	inst, err := rt.Load(ctx, wasm)
	if err != nil {
		rt.Close(ctx)
		return nil, nil, err
	}
	return rt, inst, nil
}

// hostFile backs a mounted path with a file on the host.
type hostFile struct {
	*os.File
	size int64
}

func (h hostFile) Size() int64 {
	return h.size
}

// mountHostFile parses "path=file", mounts the host file on path and returns
// the function that undoes it.
func (a *app) mountHostFile(spec string, persist bool) (func() error, error) {
	name, file, ok := strings.Cut(spec, "=")
	if !ok || name == "" || file == "" {
		return nil, fmt.Errorf("mount %q: want path=file", spec)
	}
	f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mount %q: %w", spec, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mount %q: %w", spec, err)
	}
	if err := a.fsys.MountMemory(name, hostFile{File: f, size: info.Size()}); err != nil {
		f.Close()
		return nil, err
	}
	a.log.Debug("mounted host file", zap.String("path", name), zap.String("file", file))

	return func() error {
		var err error
		if persist {
			err = a.fsys.StoreMemory(name)
		}
		if uerr := a.fsys.UnmountMemory(name); err == nil {
			err = uerr
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	}, nil
}

func (a *app) printStats(w io.Writer) {
	families, err := a.metrics.Gather()
	if err != nil {
		a.log.Warn("gather metrics", zap.Error(err))
		return
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%-40s %6.0f", strings.Join(labels, " "), m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)

	fmt.Fprintln(w, color.New(color.Bold).Sprint("filesystem operations"))
	for _, l := range lines {
		fmt.Fprintln(w, "  "+l)
	}
}

// printCall renders debug output and the committed response.
func printCall(w io.Writer, call *host.Call) {
	debug := color.New(color.FgCyan)
	for _, line := range call.DebugLines() {
		debug.Fprintln(w, line)
	}

	resp := call.Response()
	switch resp.Status {
	case host.StatusReplied:
		color.New(color.FgGreen).Fprint(w, "reply: ")
		fmt.Fprintf(w, "%q\n", resp.Payload)
	case host.StatusRejected:
		color.New(color.FgRed).Fprint(w, "reject: ")
		fmt.Fprintln(w, resp.Message)
	default:
		color.New(color.FgYellow).Fprintln(w, "no response")
	}
}

// payloadArg joins positional payload words with spaces.
func payloadArg(args []string) []byte {
	return []byte(strings.Join(args, " "))
}

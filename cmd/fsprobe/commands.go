package main

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/wippyai/canister-fs/host"
	"github.com/wippyai/canister-fs/probe"
	"github.com/wippyai/canister-fs/vfs"
)

func newCallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <probe> [payload...]",
		Short: "Dispatch a built-in probe",
		Long: `Dispatch a built-in probe and print its debug output and response.

Payload words are joined with spaces. The command fails when the probe
rejects.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); err == nil {
					err = cerr
				}
			}()

			call, err := a.callProbe(cmd.Context(), args[0], payloadArg(args[1:]))
			printCall(cmd.OutOrStdout(), call)
			return err
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var wasmPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List probes, or the methods of a canister module",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			out := cmd.OutOrStdout()
			if wasmPath == "" {
				for _, name := range probe.Default().Names() {
					fmt.Fprintln(out, name)
				}
				return nil
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); err == nil {
					err = cerr
				}
			}()

			ctx := cmd.Context()
			rt, inst, err := a.loadCanister(ctx, wasmPath)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)
			for _, name := range inst.Methods() {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&wasmPath, "wasm", "", "Canister module to inspect")
	return cmd
}

func newTreeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree [path]",
		Short: "Print the filesystem tree with sizes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			root := "/"
			if len(args) == 1 {
				root = args[0]
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); err == nil {
					err = cerr
				}
			}()

			return printTree(cmd.OutOrStdout(), a.fsys, vfs.CleanPath(root))
		},
	}
}

// printTree writes one line per entry under root, depth first.
func printTree(w io.Writer, fsys *vfs.FS, root string) error {
	st, err := fsys.Lstat(root)
	if err != nil {
		return err
	}
	printEntry(w, root, st, 0)
	if !st.Mode.IsDir() {
		return nil
	}
	return walkTree(w, fsys, root, 1)
}

func walkTree(w io.Writer, fsys *vfs.FS, dir string, depth int) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := path.Join(dir, e.Name)
		st, err := fsys.Lstat(p)
		if err != nil {
			return err
		}
		printEntry(w, e.Name, st, depth)
		if st.Mode.IsDir() {
			if err := walkTree(w, fsys, p, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

func printEntry(w io.Writer, name string, st vfs.Stat, depth int) {
	indent := fmt.Sprintf("%*s", depth*2, "")
	switch {
	case st.Mode.IsDir():
		if !strings.HasSuffix(name, "/") {
			name += "/"
		}
		fmt.Fprintf(w, "%s%s %s\n", indent, color.BlueString(name), st.Mode)
	case st.Mode.IsSymlink():
		fmt.Fprintf(w, "%s%s %s\n", indent, color.CyanString(name), st.Mode)
	default:
		fmt.Fprintf(w, "%s%s %s %s (%d blocks)\n", indent, name, st.Mode,
			units.BytesSize(float64(st.Size)), st.Blocks)
	}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		wasmPath    string
		mounts      []string
		storeMounts bool
	)

	cmd := &cobra.Command{
		Use:   "run --wasm <file> <method> [payload...]",
		Short: "Call a method of a canister module",
		Long: `Load a canister module, mount the filesystem into it over WASI and call
one of its exported query or update methods.

--mount path=file backs a filesystem path with a host file for the duration
of the call. With --store-mounts the host content is also copied into the
filesystem before unmounting.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); err == nil {
					err = cerr
				}
			}()

			ctx := cmd.Context()
			rt, inst, err := a.loadCanister(ctx, wasmPath)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			for _, spec := range mounts {
				unmount, merr := a.mountHostFile(spec, storeMounts)
				if merr != nil {
					return merr
				}
				defer func() {
					if uerr := unmount(); err == nil {
						err = uerr
					}
				}()
			}

			call, err := inst.Call(ctx, args[0], payloadArg(args[1:]))
			printCall(cmd.OutOrStdout(), call)
			if err != nil {
				return err
			}
			if call.Response().Status != host.StatusReplied {
				return fmt.Errorf("%s rejected", args[0])
			}
			return a.fsys.Sync()
		},
	}
	cmd.Flags().StringVar(&wasmPath, "wasm", "", "Canister module to run")
	cmd.Flags().StringArrayVar(&mounts, "mount", nil, "Back a path with a host file, as path=file")
	cmd.Flags().BoolVar(&storeMounts, "store-mounts", false, "Copy mounted content into the filesystem before unmounting")
	cmd.MarkFlagRequired("wasm")
	return cmd
}

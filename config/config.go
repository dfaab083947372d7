// Package config loads fsprobe settings from TOML.
//
//	[fs]
//	chunk_size = "16KiB"
//	alloc_policy = "sparse"
//	uid = 0
//	gid = 0
//	umask = 0o022
//
//	[store]
//	backend = "bolt"
//	path = "canister.db"
//
//	[host]
//	max_arg_size = "1MiB"
//
//	[canister]
//	args = ["canister"]
//	rand_seed = "fixed"
//	[canister.env]
//	HOME = "/"
//
//	[log]
//	level = "info"
//	development = false
//
// Sizes accept plain byte counts or binary suffixes (K, KiB, M, MiB).
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/wippyai/canister-fs/errors"
	"github.com/wippyai/canister-fs/host"
	"github.com/wippyai/canister-fs/store"
	"github.com/wippyai/canister-fs/vfs"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
)

type Config struct {
	FS       FSConfig       `toml:"fs"`
	Store    StoreConfig    `toml:"store"`
	Log      LogConfig      `toml:"log"`
	Host     HostConfig     `toml:"host"`
	Canister CanisterConfig `toml:"canister"`
}

type FSConfig struct {
	ChunkSize   string `toml:"chunk_size"`
	AllocPolicy string `toml:"alloc_policy"`
	UID         uint32 `toml:"uid"`
	GID         uint32 `toml:"gid"`
	Umask       uint32 `toml:"umask"`
}

type StoreConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

type HostConfig struct {
	MaxArgSize string `toml:"max_arg_size"`
}

// CanisterConfig is the WASI view given to loaded canisters. An empty
// RandSeed draws random_get from crypto/rand.
type CanisterConfig struct {
	Env      map[string]string `toml:"env"`
	Args     []string          `toml:"args"`
	RandSeed string            `toml:"rand_seed"`
}

// Seed returns RandSeed as bytes, or nil when unset.
func (c CanisterConfig) Seed() []byte {
	if c.RandSeed == "" {
		return nil
	}
	return []byte(c.RandSeed)
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Default returns the configuration used when no file is given: an
// in-memory store with 16 KiB chunks and sparse block accounting.
func Default() *Config {
	return &Config{
		FS: FSConfig{
			ChunkSize:   store.DefaultChunkSize.String(),
			AllocPolicy: vfs.AllocSparse.String(),
			Umask:       0o022,
		},
		Store: StoreConfig{Backend: BackendMemory},
		Host:  HostConfig{MaxArgSize: units.BytesSize(float64(host.DefaultMaxArgSize))},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads and validates the TOML file at path. Keys missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindIO).
			Op("read").
			Path(path).
			Cause(err).
			Build()
	}
	cfg, err := Parse(data)
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) && e.Path == "" {
			e.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Op("decode").
			Cause(err).
			Detail("%s", decodeDetail(err)).
			Build()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeDetail(err error) string {
	var strict *toml.StrictMissingError
	var decode *toml.DecodeError
	switch {
	case stderrors.As(err, &strict):
		return strings.TrimSpace(strict.String())
	case stderrors.As(err, &decode):
		row, col := decode.Position()
		return fmt.Sprintf("line %d column %d: %s", row, col, decode.Error())
	}
	return err.Error()
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	if _, err := c.ChunkSize(); err != nil {
		return err
	}
	if _, err := vfs.ParseAllocPolicy(c.FS.AllocPolicy); err != nil {
		return err
	}
	if c.FS.Umask&^0o777 != 0 {
		return invalid("fs.umask", "umask %#o has bits outside 0o777", c.FS.Umask)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Store.Path == "" {
			return invalid("store.path", "bolt backend requires a path")
		}
	default:
		return invalid("store.backend", "unknown backend %q", c.Store.Backend)
	}

	if _, err := c.MaxArgSize(); err != nil {
		return err
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown level %q", c.Log.Level)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(field).
		Detail(format, args...).
		Build()
}

// ChunkSize returns the parsed fs.chunk_size.
func (c *Config) ChunkSize() (store.ChunkSize, error) {
	n, err := units.RAMInBytes(c.FS.ChunkSize)
	if err != nil {
		return 0, invalid("fs.chunk_size", "%v", err)
	}
	size, err := store.ParseChunkSize(int(n))
	if err != nil {
		return 0, invalid("fs.chunk_size", "%v", err)
	}
	return size, nil
}

// MaxArgSize returns the parsed host.max_arg_size.
func (c *Config) MaxArgSize() (int, error) {
	n, err := units.RAMInBytes(c.Host.MaxArgSize)
	if err != nil {
		return 0, invalid("host.max_arg_size", "%v", err)
	}
	if n <= 0 {
		return 0, invalid("host.max_arg_size", "must be positive, got %d", n)
	}
	return int(n), nil
}

// OpenStore opens the configured chunk store.
func (c *Config) OpenStore() (store.Store, error) {
	size, err := c.ChunkSize()
	if err != nil {
		return nil, err
	}
	if c.Store.Backend == BackendBolt {
		bs, err := store.OpenBolt(c.Store.Path, size)
		if err != nil {
			return nil, err
		}
		return bs, nil
	}
	return store.NewMemory(size), nil
}

// NewFS opens the store and the filesystem on top of it. opts are applied
// after the configured ones.
func (c *Config) NewFS(opts ...vfs.Option) (*vfs.FS, error) {
	policy, err := vfs.ParseAllocPolicy(c.FS.AllocPolicy)
	if err != nil {
		return nil, err
	}
	st, err := c.OpenStore()
	if err != nil {
		return nil, err
	}
	base := []vfs.Option{
		vfs.WithAllocPolicy(policy),
		vfs.WithOwner(c.FS.UID, c.FS.GID),
		vfs.WithUmask(vfs.Mode(c.FS.Umask)),
	}
	fsys, err := vfs.New(st, append(base, opts...)...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return fsys, nil
}

// NewLogger builds a zap logger for the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, invalid("log.level", "unknown level %q", c.Log.Level)
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

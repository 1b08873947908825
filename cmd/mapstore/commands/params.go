// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mapstore/cmd/mapstore/cli"
	"github.com/bureau-foundation/mapstore/lib/catalog"
	"github.com/bureau-foundation/mapstore/lib/config"
	"github.com/bureau-foundation/mapstore/lib/mapstore"
)

// StoreParams carries the flags every store command shares. It
// implements [cli.FlagBinder] so that it can remember which flags the
// user actually set: only those override the config file.
//
// Exported so that embedded struct fields are visible to reflection in
// [cli.FlagsFromParams].
type StoreParams struct {
	ConfigPath     string
	Path           string
	AllocationSize config.Size
	MapSize        config.Size
	Prealloc       bool
	Catalog        string
	LogLevel       string

	flagSet *pflag.FlagSet
}

// AddFlags registers the shared flags. Defaults mirror config.Default.
func (p *StoreParams) AddFlags(flagSet *pflag.FlagSet) {
	defaults := config.Default()
	*p = StoreParams{
		AllocationSize: defaults.AllocationSize,
		MapSize:        defaults.MapSize,
		flagSet:        flagSet,
	}

	flagSet.StringVar(&p.ConfigPath, "config", "", "config file (default: $"+config.EnvVar+")")
	flagSet.StringVarP(&p.Path, "path", "p", defaults.Path, "store root directory")
	flagSet.VarP(&p.AllocationSize, "alloc", "a", "total capacity, e.g. 10GiB")
	flagSet.VarP(&p.MapSize, "map", "m", "shard file size, e.g. 2GiB")
	flagSet.BoolVar(&p.Prealloc, "prealloc", false, "reserve disk blocks for shard files")
	flagSet.StringVar(&p.Catalog, "catalog", defaults.Catalog, "catalog backend: sqlite or bolt")
	flagSet.StringVar(&p.LogLevel, "log-level", defaults.LogLevel, "log level: debug, info, warn or error")
}

func (p *StoreParams) changed(name string) bool {
	return p.flagSet != nil && p.flagSet.Changed(name)
}

// resolve loads the config file, if any, and applies the flags the
// user set over it. explicit reports whether a file was loaded.
func (p *StoreParams) resolve() (cfg *config.Config, explicit bool, err error) {
	if p.ConfigPath != "" {
		cfg, err = config.LoadFile(p.ConfigPath)
		explicit = true
	} else {
		cfg, err = config.Load()
		explicit = err == nil
		if errors.Is(err, config.ErrNotConfigured) {
			cfg, err = config.Default(), nil
		}
	}
	if err != nil {
		return nil, false, cli.Validation("%w", err)
	}

	if p.changed("path") {
		cfg.Path = p.Path
	}
	if p.changed("alloc") {
		cfg.AllocationSize = p.AllocationSize
	}
	if p.changed("map") {
		cfg.MapSize = p.MapSize
	}
	if p.changed("prealloc") {
		cfg.Prealloc = p.Prealloc
	}
	if p.changed("catalog") {
		cfg.Catalog = p.Catalog
	}
	if p.changed("log-level") {
		cfg.LogLevel = p.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, cli.Validation("%w", err)
	}
	return cfg, explicit, nil
}

// session is an open store together with the configuration and logger
// it was opened with.
type session struct {
	store  *mapstore.Store
	config *config.Config
	logger *slog.Logger
}

func (s *session) Close() error {
	return storeError(s.store.Close())
}

// open resolves the configuration and opens the store. The configured
// geometry is applied when layout is set, when the user passed --alloc
// or --map, or when a config file is in use. Otherwise the store keeps
// the geometry it recorded, so that an everyday command cannot grow a
// store by falling back to the default capacity.
func (p *StoreParams) open(ctx context.Context, layout bool) (*session, error) {
	cfg, explicit, err := p.resolve()
	if err != nil {
		return nil, err
	}
	level, err := cfg.Level()
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	logger := cli.NewCommandLogger(level)

	storeConfig := mapstore.Config{
		Path:       cfg.Path,
		Prealloc:   cfg.Prealloc,
		Catalog:    catalog.Backend(cfg.Catalog),
		BufferSize: int(cfg.IO.BufferSize),
		Logger:     logger,
	}
	if layout || explicit || p.changed("alloc") || p.changed("map") {
		storeConfig.AllocationSize = int64(cfg.AllocationSize)
		storeConfig.MapSize = int64(cfg.MapSize)
	}

	store, err := mapstore.Open(ctx, storeConfig)
	if err != nil {
		if storeConfig.AllocationSize == 0 && errors.Is(err, mapstore.ErrConfig) {
			return nil, cli.Validation("%w\n\nRun 'mapstore init' first, or pass --alloc.", err)
		}
		return nil, storeError(err)
	}
	return &session{store: store, config: cfg, logger: logger}, nil
}

// storeError categorizes an error from the store so that the process
// exit code tells scripts what went wrong.
func storeError(err error) error {
	var tool *cli.ToolError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &tool):
		return err
	case errors.Is(err, mapstore.ErrConfig):
		return cli.Validation("%w", err)
	case errors.Is(err, mapstore.ErrNotFound):
		return cli.NotFound("%w", err)
	case errors.Is(err, mapstore.ErrDuplicate), errors.Is(err, mapstore.ErrLayoutConflict),
		errors.Is(err, mapstore.ErrLocked):
		return cli.Conflict("%w", err)
	case errors.Is(err, mapstore.ErrCapacity):
		return cli.Capacity("%w", err)
	default:
		return cli.Internal("%w", err)
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mapstore/cmd/mapstore/cli"
	"github.com/bureau-foundation/mapstore/lib/config"
	"github.com/bureau-foundation/mapstore/lib/mapstore"
)

// --- init ---

type initParams struct {
	StoreParams
	cli.JSONOutput
}

func initCommand() *cli.Command {
	var params initParams

	return &cli.Command{
		Name:    "init",
		Summary: "Create a store or grow it to a new capacity",
		Usage:   "mapstore init [flags]",
		Description: `Create the store's shard files and catalog, or apply a new geometry
to an existing store.

On first run the geometry is recorded and every shard file is
created. Later runs may raise --alloc: the last shard grows and new
shards are added. Changing --map or shrinking --alloc is refused
while blobs are stored; use 'mapstore restructure' for that.`,
		Examples: []cli.Example{
			{
				Description: "Create a 64 GiB store in 4 GiB shards",
				Command:     "mapstore init -p /srv/blobs --alloc 64GiB --map 4GiB",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("init", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) (err error) {
			if len(args) != 0 {
				return cli.Validation("init takes no arguments")
			}
			session, err := params.open(ctx, true)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := session.Close(); err == nil {
					err = closeErr
				}
			}()

			info, err := session.store.StoreInfo(ctx)
			if err != nil {
				return storeError(err)
			}
			if done, err := params.EmitJSON(info); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "%s: %d shards, %s free of %s\n",
				session.store.Path(), info.ShardCount,
				formatBytes(info.FreeSpace), formatBytes(info.AllocationSize))
			return nil
		},
	}
}

// --- reconcile ---

type reconcileParams struct {
	StoreParams
	cli.JSONOutput
}

func reconcileCommand() *cli.Command {
	var params reconcileParams

	return &cli.Command{
		Name:    "reconcile",
		Summary: "Release space held by interrupted stores",
		Usage:   "mapstore reconcile [flags]",
		Description: `Release every blob whose space was reserved but whose bytes were
never finished, typically because a store process died. Opening the
store does this too; the command reports what was released.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("reconcile", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) (err error) {
			if len(args) != 0 {
				return cli.Validation("reconcile takes no arguments")
			}
			session, err := params.open(ctx, false)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := session.Close(); err == nil {
					err = closeErr
				}
			}()

			report, err := session.store.Reconcile(ctx)
			if err != nil {
				return storeError(err)
			}
			if done, err := params.EmitJSON(report); done {
				return err
			}
			for _, hash := range report.Released {
				fmt.Fprintf(cli.Stdout, "released %s\n", hash)
			}
			fmt.Fprintf(cli.Stdout, "%d entries released, %s returned\n",
				len(report.Released), formatBytes(report.ReleasedBytes))
			return nil
		},
	}
}

// --- check ---

type checkParams struct {
	StoreParams
}

func checkCommand() *cli.Command {
	var params checkParams

	return &cli.Command{
		Name:    "check",
		Summary: "Check catalog and shard file consistency",
		Usage:   "mapstore check [flags]",
		Description: `Confirm that every shard file exists with the recorded size and that
the free lists and blob segments of each shard tile it exactly, with
no gaps and no overlaps. Blob bytes are not read; use 'mapstore
verify --all' for that.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("check", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) (err error) {
			if len(args) != 0 {
				return cli.Validation("check takes no arguments")
			}
			session, err := params.open(ctx, false)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := session.Close(); err == nil {
					err = closeErr
				}
			}()

			if err := session.store.Check(ctx); err != nil {
				return storeError(err)
			}
			fmt.Fprintln(cli.Stdout, "ok")
			return nil
		},
	}
}

// --- restructure ---

type restructureParams struct {
	StoreParams
	NewMap   config.Size `flag:"new-map" desc:"new shard file size, e.g. 4GiB (default: current)"`
	NewAlloc config.Size `flag:"new-alloc" desc:"new total capacity, e.g. 20GiB (default: current)"`
	Workers  int         `flag:"workers" desc:"blobs copied concurrently (default: restructure.workers)"`
}

func restructureCommand() *cli.Command {
	var params restructureParams

	return &cli.Command{
		Name:    "restructure",
		Summary: "Rebuild the store with a new shard size or capacity",
		Usage:   "mapstore restructure [--new-map size] [--new-alloc size] [flags]",
		Description: `Copy every blob into a freshly laid out generation and switch over.

The new generation is built beside the current one, so the store
needs disk room for both while this runs. A failure leaves the
current generation untouched. Capacity may shrink as long as the
stored blobs still fit.`,
		Examples: []cli.Example{
			{
				Description: "Move to 4 GiB shards with four copy workers",
				Command:     "mapstore restructure -p /srv/blobs --new-map 4GiB --workers 4",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("restructure", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) (err error) {
			if len(args) != 0 {
				return cli.Validation("restructure takes no arguments")
			}
			if params.NewMap == 0 && params.NewAlloc == 0 {
				return cli.Validation("pass --new-map, --new-alloc or both")
			}
			if params.NewMap < 0 || params.NewAlloc < 0 || params.Workers < 0 {
				return cli.Validation("sizes and --workers must not be negative")
			}
			session, err := params.open(ctx, false)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := session.Close(); err == nil {
					err = closeErr
				}
			}()

			before, err := session.store.StoreInfo(ctx)
			if err != nil {
				return storeError(err)
			}
			mapSize, allocationSize := int64(params.NewMap), int64(params.NewAlloc)
			if mapSize == 0 {
				mapSize = before.MapSize
			}
			if allocationSize == 0 {
				allocationSize = before.AllocationSize
			}
			workers := params.Workers
			if workers == 0 {
				workers = session.config.Restructure.Workers
			}

			logger := session.logger
			err = session.store.Restructure(ctx, mapSize, allocationSize, mapstore.RestructureOptions{
				Workers: workers,
				Progress: func(copied, total int) {
					logger.Debug("restructure progress", "copied", copied, "total", total)
				},
			})
			if err != nil {
				return storeError(err)
			}

			after, err := session.store.StoreInfo(ctx)
			if err != nil {
				return storeError(err)
			}
			fmt.Fprintf(cli.Stdout, "%s: %d blobs moved to %d shards of %s (%s total)\n",
				after.Generation, after.BlobCount, after.ShardCount,
				formatBytes(after.MapSize), formatBytes(after.AllocationSize))
			return nil
		},
	}
}

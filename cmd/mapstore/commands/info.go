// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mapstore/cmd/mapstore/cli"
)

// formatBytes renders a byte count as "1.5 MiB (1572864 bytes)".
func formatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d bytes", n)
	}
	return fmt.Sprintf("%s (%d bytes)", humanize.IBytes(uint64(n)), n)
}

// --- get-data-info ---

type dataInfoParams struct {
	StoreParams
	cli.JSONOutput
}

func dataInfoCommand() *cli.Command {
	var params dataInfoParams

	return &cli.Command{
		Name:    "get-data-info",
		Summary: "Show a blob's size, checksum and placement",
		Usage:   "mapstore get-data-info <hash> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("get-data-info", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) (err error) {
			if len(args) != 1 {
				return cli.Validation("usage: mapstore get-data-info <hash>")
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

			info, err := session.store.DataInfo(ctx, args[0])
			if err != nil {
				return storeError(err)
			}
			if done, err := params.EmitJSON(info); done {
				return err
			}

			shards := make([]string, len(info.Shards))
			for i, id := range info.Shards {
				shards[i] = strconv.Itoa(id)
			}
			tw := tabwriter.NewWriter(cli.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "hash:\t%s\n", info.Hash)
			fmt.Fprintf(tw, "size:\t%s\n", formatBytes(info.Size))
			fmt.Fprintf(tw, "checksum:\t%s\n", info.Checksum)
			fmt.Fprintf(tw, "created:\t%s\n", info.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(tw, "segments:\t%d\n", info.SegmentCount)
			fmt.Fprintf(tw, "shards:\t%s\n", strings.Join(shards, ", "))
			return tw.Flush()
		},
	}
}

// --- get-store-info ---

type storeInfoParams struct {
	StoreParams
	cli.JSONOutput
}

func storeInfoCommand() *cli.Command {
	var params storeInfoParams

	return &cli.Command{
		Name:    "get-store-info",
		Summary: "Show capacity, free space and blob counts",
		Usage:   "mapstore get-store-info [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("get-store-info", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) (err error) {
			if len(args) != 0 {
				return cli.Validation("get-store-info takes no arguments")
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

			info, err := session.store.StoreInfo(ctx)
			if err != nil {
				return storeError(err)
			}
			if done, err := params.EmitJSON(info); done {
				return err
			}

			tw := tabwriter.NewWriter(cli.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "path:\t%s\n", session.store.Path())
			fmt.Fprintf(tw, "generation:\t%s\n", info.Generation)
			fmt.Fprintf(tw, "allocation:\t%s\n", formatBytes(info.AllocationSize))
			fmt.Fprintf(tw, "map size:\t%s\n", formatBytes(info.MapSize))
			fmt.Fprintf(tw, "shards:\t%d\n", info.ShardCount)
			fmt.Fprintf(tw, "used:\t%s\n", formatBytes(info.UsedSpace))
			fmt.Fprintf(tw, "free:\t%s\n", formatBytes(info.FreeSpace))
			fmt.Fprintf(tw, "blobs:\t%d\n", info.BlobCount)
			if info.PendingCount > 0 {
				fmt.Fprintf(tw, "pending:\t%d\n", info.PendingCount)
			}
			return tw.Flush()
		},
	}
}

// --- list ---

type listParams struct {
	StoreParams
	cli.JSONOutput
}

func listCommand() *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List the hashes of every stored blob",
		Usage:   "mapstore list [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) (err error) {
			if len(args) != 0 {
				return cli.Validation("list takes no arguments")
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

			hashes, err := session.store.List(ctx)
			if err != nil {
				return storeError(err)
			}
			if done, err := params.EmitJSON(hashes); done {
				return err
			}
			for _, hash := range hashes {
				fmt.Fprintln(cli.Stdout, hash)
			}
			return nil
		},
	}
}

// --- shards ---

type shardsParams struct {
	StoreParams
	cli.JSONOutput
}

func shardsCommand() *cli.Command {
	var params shardsParams

	return &cli.Command{
		Name:    "shards",
		Summary: "Show per-shard size and fragmentation",
		Usage:   "mapstore shards [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("shards", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) (err error) {
			if len(args) != 0 {
				return cli.Validation("shards takes no arguments")
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

			shards, err := session.store.Shards(ctx)
			if err != nil {
				return storeError(err)
			}
			if done, err := params.EmitJSON(shards); done {
				return err
			}

			tw := tabwriter.NewWriter(cli.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SHARD\tSIZE\tFREE\tINTERVALS\tLARGEST")
			for _, shard := range shards {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n",
					shard.ID,
					humanize.IBytes(uint64(shard.Size)),
					humanize.IBytes(uint64(shard.FreeSpace)),
					shard.FreeIntervals,
					humanize.IBytes(uint64(shard.LargestFree)),
				)
			}
			return tw.Flush()
		},
	}
}

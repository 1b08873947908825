// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the mapstore CLI command tree.
//
// Every store command shares the flags in [StoreParams]. Values come
// from config.Default, then the config file named by --config or
// MAPSTORE_CONFIG, then any flag the user set explicitly.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mapstore/cmd/mapstore/cli"
	"github.com/bureau-foundation/mapstore/lib/version"
)

// Root builds and returns the complete mapstore command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "mapstore",
		Description: `mapstore: content-addressed blob storage on pre-allocated shard files.

Blobs are split into segments placed in the free space of fixed-size
shard files. A catalog records where every segment lives and which
ranges of each shard are free.`,
		Subcommands: []*cli.Command{
			initCommand(),
			storeCommand(),
			retrieveCommand(),
			deleteCommand(),
			dataInfoCommand(),
			storeInfoCommand(),
			listCommand(),
			shardsCommand(),
			verifyCommand(),
			reconcileCommand(),
			checkCommand(),
			restructureCommand(),
			exportCommand(),
			importCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Create a store and add a file",
				Command:     "mapstore init -p /srv/blobs --alloc 10GiB && mapstore store -p /srv/blobs disk.img",
			},
			{
				Description: "Inspect the store",
				Command:     "mapstore get-store-info -p /srv/blobs",
			},
		},
	}
}

type versionParams struct {
	cli.JSONOutput
}

func versionCommand() *cli.Command {
	var params versionParams

	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("version", &params)
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if done, err := params.EmitJSON(version.Current()); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "mapstore %s\n", version.Full())
			return nil
		},
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/mapstore/cmd/mapstore/cli"
	"github.com/bureau-foundation/mapstore/lib/archive"
)

// --- export ---

type exportParams struct {
	StoreParams
	cli.JSONOutput
	Codec string `flag:"codec" desc:"frame compression: none, lz4, zstd or auto (default: archive.codec)"`
}

func exportCommand() *cli.Command {
	var params exportParams

	return &cli.Command{
		Name:    "export",
		Summary: "Write every blob to a portable archive",
		Usage:   "mapstore export <file|-> [flags]",
		Description: `Write every stored blob, with its hash and checksum, to an archive
that 'mapstore import' can load into any store regardless of its
geometry or catalog backend.`,
		Examples: []cli.Example{
			{
				Description: "Export with LZ4 frames",
				Command:     "mapstore export -p /srv/blobs --codec lz4 blobs.archive",
			},
			{
				Description: "Copy one store into another",
				Command:     "mapstore export -p /srv/old - | mapstore import -p /srv/new -",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("export", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("usage: mapstore export <file|->")
			}
			return runExport(ctx, &params, args[0])
		},
	}
}

func runExport(ctx context.Context, params *exportParams, name string) (err error) {
	session, err := params.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); err == nil {
			err = closeErr
		}
	}()

	codecName := params.Codec
	if codecName == "" {
		codecName = session.config.Archive.Codec
	}
	codec, err := archive.ParseCodec(codecName)
	if err != nil {
		return cli.Validation("%w", err)
	}

	var w io.Writer = cli.Stdout
	var file *os.File
	if name != "-" {
		file, err = os.Create(name)
		if err != nil {
			return cli.Internal("%w", err)
		}
		w = file
	}

	summary, err := archive.Export(ctx, w, session.store, archive.ExportOptions{
		Codec:  codec,
		Logger: session.logger,
	})
	if file != nil {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(name)
		}
	}
	if err != nil {
		return archiveError(err)
	}

	if name == "-" {
		session.logger.Info("export complete", "blobs", summary.Blobs, "bytes", summary.Bytes)
		return nil
	}
	if done, err := params.EmitJSON(summary); done {
		return err
	}
	fmt.Fprintf(cli.Stdout, "exported %d blobs (%s) to %s\n", summary.Blobs, formatBytes(summary.Bytes), name)
	return nil
}

// --- import ---

type importParams struct {
	StoreParams
	cli.JSONOutput
	SkipExisting bool `flag:"skip-existing" desc:"skip blobs the store already holds instead of failing"`
}

func importCommand() *cli.Command {
	var params importParams

	return &cli.Command{
		Name:    "import",
		Summary: "Load blobs from an archive",
		Usage:   "mapstore import <file|-> [flags]",
		Description: `Store every blob in an archive written by 'mapstore export'. Each
blob's checksum is confirmed before it is finalized, so a damaged
archive never leaves a damaged blob behind.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("import", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return cli.Validation("usage: mapstore import <file|->")
			}
			return runImport(ctx, &params, args[0])
		},
	}
}

func runImport(ctx context.Context, params *importParams, name string) (err error) {
	var r io.Reader = cli.Stdin
	if name != "-" {
		file, err := os.Open(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return cli.NotFound("%w", err)
			}
			return cli.Internal("%w", err)
		}
		defer file.Close()
		r = file
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

	summary, err := archive.Import(ctx, r, session.store, archive.ImportOptions{
		SkipExisting: params.SkipExisting,
		Logger:       session.logger,
	})
	if err != nil {
		return archiveError(err)
	}
	if done, err := params.EmitJSON(summary); done {
		return err
	}
	fmt.Fprintf(cli.Stdout, "imported %d blobs (%s)", summary.Blobs, formatBytes(summary.Bytes))
	if summary.Skipped > 0 {
		fmt.Fprintf(cli.Stdout, ", skipped %d already present", summary.Skipped)
	}
	fmt.Fprintln(cli.Stdout)
	return nil
}

// archiveError categorizes archive failures. A malformed or damaged
// archive is bad input; everything else comes from the store.
func archiveError(err error) error {
	if errors.Is(err, archive.ErrFormat) || errors.Is(err, archive.ErrChecksumMismatch) {
		return cli.Validation("%w", err)
	}
	return storeError(err)
}

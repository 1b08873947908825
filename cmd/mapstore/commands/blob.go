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
	"github.com/bureau-foundation/mapstore/lib/contenthash"
	"github.com/bureau-foundation/mapstore/lib/mapstore"
)

// --- store ---

type storeParams struct {
	StoreParams
	cli.JSONOutput
	Hash string `flag:"hash" desc:"store under this hash instead of the content address"`
}

type storeResult struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

func storeCommand() *cli.Command {
	var params storeParams

	return &cli.Command{
		Name:    "store",
		Summary: "Store a file or stdin as a blob",
		Usage:   "mapstore store [file|-] [flags]",
		Description: `Store content as a new blob and print its hash.

Reads the named file, or stdin if no file is given (or file is "-").
The hash defaults to the content address, hex(RIPEMD-160(SHA-256)),
so storing the same content twice fails with a conflict.`,
		Examples: []cli.Example{
			{
				Description: "Store a file",
				Command:     "mapstore store -p /srv/blobs disk.img",
			},
			{
				Description: "Store from a pipe",
				Command:     "tar c src | mapstore store -p /srv/blobs",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("store", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) > 1 {
				return cli.Validation("store takes at most one file, got %d arguments", len(args))
			}
			name := "-"
			if len(args) == 1 {
				name = args[0]
			}
			return runStore(ctx, &params, name)
		},
	}
}

func runStore(ctx context.Context, params *storeParams, name string) (err error) {
	source, err := openSource(name)
	if err != nil {
		return err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return cli.Internal("stat %s: %w", name, err)
	}
	hash := params.Hash
	if hash == "" {
		hash, _, err = contenthash.Address(source)
		if err != nil {
			return cli.Internal("%w", err)
		}
		if _, err := source.Seek(0, io.SeekStart); err != nil {
			return cli.Internal("rewinding %s: %w", name, err)
		}
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

	if err := session.store.Store(ctx, hash, source, info.Size()); err != nil {
		return storeError(err)
	}

	result := storeResult{Hash: hash, Size: info.Size()}
	if done, err := params.EmitJSON(result); done {
		return err
	}
	fmt.Fprintln(cli.Stdout, hash)
	return nil
}

// spooledFile is a source file that removes itself on Close when it
// holds spooled stdin.
type spooledFile struct {
	*os.File
	temporary bool
}

func (f *spooledFile) Close() error {
	err := f.File.Close()
	if f.temporary {
		os.Remove(f.Name())
	}
	return err
}

// openSource opens name for reading. Stdin is spooled to a temporary
// file first: the content address must be computed before the store
// reserves space, and the store needs the size up front.
func openSource(name string) (*spooledFile, error) {
	if name != "-" {
		file, err := os.Open(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, cli.NotFound("%w", err)
			}
			return nil, cli.Internal("%w", err)
		}
		return &spooledFile{File: file}, nil
	}

	file, err := os.CreateTemp("", "mapstore-stdin-*")
	if err != nil {
		return nil, cli.Internal("spooling stdin: %w", err)
	}
	spooled := &spooledFile{File: file, temporary: true}
	if _, err := io.Copy(file, cli.Stdin); err != nil {
		spooled.Close()
		return nil, cli.Internal("spooling stdin: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		spooled.Close()
		return nil, cli.Internal("spooling stdin: %w", err)
	}
	return spooled, nil
}

// --- retrieve ---

type retrieveParams struct {
	StoreParams
}

func retrieveCommand() *cli.Command {
	var params retrieveParams

	return &cli.Command{
		Name:    "retrieve",
		Summary: "Write a blob to a file or stdout",
		Usage:   "mapstore retrieve <hash> [file|-] [flags]",
		Description: `Reassemble a blob from its segments and write it out.

Writes to the named file, or to stdout if no file is given (or file
is "-"). A file that cannot be completed is removed.`,
		Examples: []cli.Example{
			{
				Description: "Retrieve to a file",
				Command:     "mapstore retrieve -p /srv/blobs 5e2b0c8f1d3a9e7b6c4f2a1d0e9b8c7a6f5e4d3c disk.img",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("retrieve", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) < 1 || len(args) > 2 {
				return cli.Validation("usage: mapstore retrieve <hash> [file]")
			}
			name := "-"
			if len(args) == 2 {
				name = args[1]
			}
			return runRetrieve(ctx, &params, args[0], name)
		},
	}
}

func runRetrieve(ctx context.Context, params *retrieveParams, hash, name string) (err error) {
	session, err := params.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); err == nil {
			err = closeErr
		}
	}()

	if name == "-" {
		return storeError(session.store.Retrieve(ctx, hash, cli.Stdout))
	}

	// Confirm the blob exists before creating the file.
	if _, err := session.store.DataInfo(ctx, hash); err != nil {
		return storeError(err)
	}
	file, err := os.Create(name)
	if err != nil {
		return cli.Internal("%w", err)
	}
	if err := session.store.Retrieve(ctx, hash, file); err != nil {
		file.Close()
		os.Remove(name)
		return storeError(err)
	}
	if err := file.Close(); err != nil {
		os.Remove(name)
		return cli.Internal("%w", err)
	}
	return nil
}

// --- delete ---

type deleteParams struct {
	StoreParams
}

func deleteCommand() *cli.Command {
	var params deleteParams

	return &cli.Command{
		Name:    "delete",
		Summary: "Delete blobs and return their space",
		Usage:   "mapstore delete <hash>... [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("delete", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) == 0 {
				return cli.Validation("usage: mapstore delete <hash>...")
			}
			return runDelete(ctx, &params, args)
		},
	}
}

func runDelete(ctx context.Context, params *deleteParams, hashes []string) (err error) {
	session, err := params.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); err == nil {
			err = closeErr
		}
	}()

	for _, hash := range hashes {
		if err := session.store.Delete(ctx, hash); err != nil {
			return storeError(err)
		}
	}
	return nil
}

// --- verify ---

type verifyParams struct {
	StoreParams
	cli.JSONOutput
	All bool `flag:"all" desc:"verify every blob in the store"`
}

type verifyResult struct {
	Hash  string `json:"hash"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func verifyCommand() *cli.Command {
	var params verifyParams

	return &cli.Command{
		Name:    "verify",
		Summary: "Check blob bytes against their recorded checksums",
		Usage:   "mapstore verify [hash...] [--all] [flags]",
		Description: `Re-read blobs and compare them to the BLAKE3 checksum recorded
when they were stored.

Prints one line per blob. Exits 1 if any blob fails.`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("verify", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if params.All == (len(args) > 0) {
				return cli.Validation("pass either hashes or --all")
			}
			return runVerify(ctx, &params, args)
		},
	}
}

func runVerify(ctx context.Context, params *verifyParams, hashes []string) (err error) {
	session, err := params.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); err == nil {
			err = closeErr
		}
	}()

	if params.All {
		hashes, err = session.store.List(ctx)
		if err != nil {
			return storeError(err)
		}
	}

	results := make([]verifyResult, 0, len(hashes))
	failed := 0
	for _, hash := range hashes {
		result := verifyResult{Hash: hash, OK: true}
		if err := session.store.Verify(ctx, hash); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, mapstore.ErrChecksumMismatch) && !errors.Is(err, mapstore.ErrNotFound) {
				return storeError(err)
			}
			result.OK = false
			result.Error = err.Error()
			failed++
		}
		results = append(results, result)
	}

	if done, err := params.EmitJSON(results); done {
		if err != nil {
			return err
		}
	} else {
		for _, result := range results {
			if result.OK {
				fmt.Fprintf(cli.Stdout, "ok      %s\n", result.Hash)
			} else {
				fmt.Fprintf(cli.Stdout, "FAILED  %s: %s\n", result.Hash, result.Error)
			}
		}
	}

	if failed > 0 {
		session.logger.Warn("verification failed", "failed", failed, "checked", len(results))
		return &cli.ExitError{Code: cli.ExitFailure}
	}
	return nil
}

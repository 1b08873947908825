// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads mapstore command configuration.
//
// Configuration comes from a single file named either by the
// MAPSTORE_CONFIG environment variable (via [Load]) or by a --config
// flag (via [LoadFile]). There is no search path and no discovery. A
// command run with neither uses [Default].
//
// Files are YAML, or JSON with comments when the name ends in .json or
// .jsonc. Byte sizes may be written as integers or as human-readable
// strings ("10GiB", "512 MB"). Unknown keys are rejected so that a
// typo cannot silently fall back to a default.
//
//	path: /srv/blobs
//	allocation_size: 100GiB
//	map_size: 2GiB
//	catalog: bolt
//	restructure:
//	  workers: 4
package config

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Mapstore manages a content-addressed blob store on pre-allocated
// shard files.
//
// Usage:
//
//	mapstore <command> [flags]
//
// Run "mapstore --help" for the command list. Exit codes: 0 success,
// 1 failure, 2 invalid input, 3 not found, 4 conflict, 5 out of space.
package main

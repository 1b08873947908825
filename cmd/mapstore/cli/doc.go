// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the mapstore binary.
//
// A [Command] tree is dispatched by name, flags are parsed with
// github.com/spf13/pflag, and unknown commands or flags get a
// "did you mean" suggestion by edit distance. Commands declare their
// flags as tagged parameter structs bound by [FlagsFromParams], and
// embed [JSONOutput] to offer --json.
//
// Errors returned from commands carry a [ToolError] category, which
// [ExitCode] maps to the process exit status.
package cli

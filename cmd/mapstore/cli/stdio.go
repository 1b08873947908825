// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"os"
)

// Commands read piped input from Stdin and write results to Stdout.
// Tests replace both. Diagnostics go to the logger on stderr.
var (
	Stdin  io.Reader = os.Stdin
	Stdout io.Writer = os.Stdout
)

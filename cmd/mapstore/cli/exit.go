// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
)

// ExitError signals a non-zero exit code without printing an extra
// error message. The command is expected to have already written its
// own output, as verify does when it lists each failed blob.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// Exit codes. Scripts can rely on these values.
const (
	ExitFailure    = 1
	ExitValidation = 2
	ExitNotFound   = 3
	ExitConflict   = 4
	ExitCapacity   = 5
)

// ExitCode returns the process exit status for an error returned by a
// command, and whether the error still needs to be printed. nil maps
// to 0.
func ExitCode(err error) (code int, report bool) {
	if err == nil {
		return 0, false
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code, false
	}
	var tool *ToolError
	if errors.As(err, &tool) {
		return tool.Category.ExitCode(), true
	}
	return ExitFailure, true
}

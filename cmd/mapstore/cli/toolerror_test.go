// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestToolError_Unwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := NotFound("blob missing: %w", sentinel)
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is did not reach the wrapped sentinel")
	}
	if err.Error() != "blob missing: sentinel" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		report bool
	}{
		{name: "nil", err: nil, code: 0},
		{name: "plain", err: errors.New("boom"), code: ExitFailure, report: true},
		{name: "validation", err: Validation("bad"), code: ExitValidation, report: true},
		{name: "not found", err: NotFound("gone"), code: ExitNotFound, report: true},
		{name: "conflict", err: Conflict("dup"), code: ExitConflict, report: true},
		{name: "capacity", err: Capacity("full"), code: ExitCapacity, report: true},
		{name: "internal", err: Internal("io"), code: ExitFailure, report: true},
		{name: "wrapped", err: fmt.Errorf("store: %w", Capacity("full")), code: ExitCapacity, report: true},
		{name: "exit error", err: &ExitError{Code: 7}, code: 7},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			code, report := ExitCode(test.err)
			if code != test.code || report != test.report {
				t.Errorf("ExitCode(%v) = %d, %v; want %d, %v", test.err, code, report, test.code, test.report)
			}
		})
	}
}

func TestEmitJSON(t *testing.T) {
	var buffer bytes.Buffer
	previous := Stdout
	Stdout = &buffer
	t.Cleanup(func() { Stdout = previous })

	var output JSONOutput
	if done, err := output.EmitJSON([]string{"a"}); done || err != nil {
		t.Fatalf("EmitJSON without --json = %v, %v", done, err)
	}
	if buffer.Len() != 0 {
		t.Errorf("EmitJSON without --json wrote %q", buffer.String())
	}

	output.OutputJSON = true
	var hashes []string
	if done, err := output.EmitJSON(hashes); !done || err != nil {
		t.Fatalf("EmitJSON = %v, %v", done, err)
	}
	if got := strings.TrimSpace(buffer.String()); got != "[]" {
		t.Errorf("nil slice encoded as %q, want []", got)
	}
}

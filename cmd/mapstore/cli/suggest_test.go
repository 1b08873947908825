// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"abc", "ab", 1},
		{"ab", "abc", 1},
		{"abc", "bac", 2},
		{"kitten", "sitting", 3},
		{"retrieve", "retreive", 2},
		{"verify", "verfy", 1},
	}

	for _, test := range tests {
		t.Run(test.a+"->"+test.b, func(t *testing.T) {
			if got := levenshtein(test.a, test.b); got != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
			}
			if got := levenshtein(test.b, test.a); got != test.want {
				t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
			}
		})
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{{Name: "store"}, {Name: "retrieve"}, {Name: "delete"}, {Name: "list"}}

	tests := []struct {
		input string
		want  string
	}{
		{"stroe", "store"},
		{"retreive", "retrieve"},
		{"delte", "delete"},
		{"lsit", "list"},
		{"restructure", ""},
	}
	for _, test := range tests {
		if got := suggestCommand(test.input, commands); got != test.want {
			t.Errorf("suggestCommand(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestSuggestFlag(t *testing.T) {
	newFlagSet := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flagSet.StringP("path", "p", ".", "store root")
		flagSet.Bool("prealloc", false, "preallocate")
		flagSet.String("catalog", "sqlite", "backend")
		return flagSet
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "typo", args: []string{"--preallco"}, want: "--prealloc"},
		{name: "with value", args: []string{"--catlog=bolt"}, want: "--catalog"},
		{name: "after known flags", args: []string{"-p", "/srv", "--pth", "x"}, want: "--path"},
		{name: "distant", args: []string{"--zzzzzzzz"}, want: ""},
		{name: "after terminator", args: []string{"--", "--preallco"}, want: ""},
		{name: "stdin marker", args: []string{"-", "--catalgo"}, want: "--catalog"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := suggestFlag(test.args, newFlagSet()); got != test.want {
				t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
			}
		})
	}
}

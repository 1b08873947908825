// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"reflect"
	"strconv"
	"testing"

	"github.com/spf13/pflag"
)

// doubled is a pflag.Value that stores twice what it is given.
type doubled int

func (d *doubled) String() string { return strconv.Itoa(int(*d)) }
func (d *doubled) Type() string   { return "doubled" }
func (d *doubled) Set(text string) error {
	value, err := strconv.Atoi(text)
	if err != nil {
		return err
	}
	*d = doubled(value * 2)
	return nil
}

type binderParams struct {
	seen *pflag.FlagSet
	Name string
}

func (b *binderParams) AddFlags(flagSet *pflag.FlagSet) {
	b.seen = flagSet
	flagSet.StringVar(&b.Name, "name", "", "a name")
}

type testParams struct {
	JSONOutput
	Path    string   `flag:"path,p" desc:"store root" default:"."`
	Force   bool     `flag:"force" desc:"overwrite"`
	Workers int      `flag:"workers" desc:"workers" default:"1"`
	Limit   int64    `flag:"limit" desc:"byte limit" default:"4096"`
	Tags    []string `flag:"tag" desc:"tags" default:"a,b"`
	Scale   doubled  `flag:"scale" desc:"scaled" default:"3"`
	Ignored string
	Binder  binderParams
}

func TestBindFlags_Defaults(t *testing.T) {
	var params testParams
	flagSet := FlagsFromParams("test", &params)
	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if params.Path != "." || params.Force || params.Workers != 1 || params.Limit != 4096 {
		t.Errorf("defaults = %+v", params)
	}
	if !reflect.DeepEqual(params.Tags, []string{"a", "b"}) {
		t.Errorf("Tags = %v, want [a b]", params.Tags)
	}
	if params.Scale != 6 {
		t.Errorf("Scale = %d, want 6", params.Scale)
	}
	if params.Binder.seen != flagSet {
		t.Error("FlagBinder did not receive the flag set")
	}
	if flagSet.Lookup("ignored") != nil {
		t.Error("untagged field was bound")
	}
}

func TestBindFlags_Parse(t *testing.T) {
	var params testParams
	flagSet := FlagsFromParams("test", &params)
	err := flagSet.Parse([]string{
		"-p", "/srv", "--force", "--workers=4", "--limit", "10",
		"--tag", "x", "--scale", "5", "--name", "n", "--json", "rest",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	want := testParams{
		JSONOutput: JSONOutput{OutputJSON: true},
		Path:       "/srv",
		Force:      true,
		Workers:    4,
		Limit:      10,
		Tags:       []string{"x"},
		Scale:      10,
	}
	params.Binder = binderParams{Name: params.Binder.Name}
	want.Binder = binderParams{Name: "n"}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("params = %+v, want %+v", params, want)
	}
	if !reflect.DeepEqual(flagSet.Args(), []string{"rest"}) {
		t.Errorf("Args = %v, want [rest]", flagSet.Args())
	}
}

func TestBindFlags_Errors(t *testing.T) {
	if err := BindFlags(testParams{}, pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags accepted a non-pointer")
	}

	var unsupported struct {
		Ratio float32 `flag:"ratio"`
	}
	if err := BindFlags(&unsupported, pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags accepted an unsupported type")
	}

	var badDefault struct {
		Count int `flag:"count" default:"many"`
	}
	if err := BindFlags(&badDefault, pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("BindFlags accepted an unparseable default")
	}
}

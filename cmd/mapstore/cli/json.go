// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"reflect"
)

// JSONOutput adds a --json flag to a params struct. Embed it and call
// EmitJSON before printing the text form:
//
//	type shardsParams struct {
//	    StoreParams
//	    cli.JSONOutput
//	}
//
//	if done, err := params.EmitJSON(shards); done {
//	    return err
//	}
type JSONOutput struct {
	OutputJSON bool `json:"-" flag:"json" desc:"print the result as JSON"`
}

// EmitJSON writes result to Stdout as indented JSON when --json was
// given and reports whether it did. A nil slice is written as [].
func (j *JSONOutput) EmitJSON(result any) (done bool, err error) {
	if !j.OutputJSON {
		return false, nil
	}
	if value := reflect.ValueOf(result); value.Kind() == reflect.Slice && value.IsNil() {
		result = reflect.MakeSlice(value.Type(), 0, 0).Interface()
	}
	return true, WriteJSON(result)
}

// WriteJSON writes value to Stdout as indented JSON.
func WriteJSON(value any) error {
	encoder := json.NewEncoder(Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

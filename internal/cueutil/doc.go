// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes user CUE files against embedded schemas.
//
// Recipe and configuration files share the same flow: compile the schema,
// compile the user file, unify with the root definition, validate, decode.
//
//	//go:embed recipe_schema.cue
//	var schema []byte
//
//	res, err := cueutil.ParseAndDecode[File](schema, data, "#Recipe",
//	    cueutil.WithFilename("stackpack.cue"))
//
// Validation failures are returned as *ValidationError with one entry per
// offending field, addressed in JSON-path notation (launch.command[0]).
package cueutil

// Package schema infers a destination table schema from a bounded
// prefix of a delimited file.
//
// Inference is best-effort over a sample: a column gets the most
// specific engine type that every sampled value satisfies, and falls
// back to string otherwise. The sample never includes more than the
// configured number of data rows, so inference is bounded in memory and
// time regardless of input size.
package schema

import (
	"fmt"
	"strings"
)

// Column is one (sanitized name, engine type) pair.
type Column struct {
	Name string
	Type string
}

// Schema is the ordered column list for a destination table.
//
// Names are unique: post-sanitization collisions are disambiguated with
// a deterministic numeric suffix. SampledRows records how many data
// rows backed the inference; callers should treat SampledRows == 0 as a
// low-confidence, header-only schema (all columns default to string).
type Schema struct {
	Columns     []Column
	SampledRows int
}

// Definition renders the column list in the form the engine's
// create-merge command expects: "[name]:type, ...".
func (s Schema) Definition() string {
	parts := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		parts = append(parts, fmt.Sprintf("[%s]:%s", c.Name, c.Type))
	}
	return strings.Join(parts, ", ")
}

// InferenceError reports that a schema could not be derived from the
// source file. It is fatal for the file it concerns.
type InferenceError struct {
	Path string
	Err  error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("infer schema for %s: %v", e.Path, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// kustoTypes maps native inference labels to engine types. Unknown
// labels deliberately fall back to string.
var kustoTypes = map[string]string{
	"integer":  "long",
	"float":    "real",
	"bool":     "bool",
	"datetime": "datetime",
	"text":     "string",
}

// KustoTypeFor resolves a native inference label to an engine type,
// defaulting to string for anything unmapped.
func KustoTypeFor(label string) string {
	if t, ok := kustoTypes[label]; ok {
		return t
	}
	return "string"
}

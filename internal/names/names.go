// Package names maps arbitrary file and column names onto identifiers
// accepted by the data engine's table and column naming rules.
//
// Both sanitizers are pure, total, and idempotent: they never fail, and
// applying them twice yields the same result as applying them once.
package names

import "strings"

// SanitizeTableName derives a safe table name from a raw name
// (typically the input file's base name without extension).
//
// Replacement order is observable and must not change: dollar signs are
// rewritten to the literal "ds" first, then every remaining character
// outside [A-Za-z0-9_] becomes an underscore.
func SanitizeTableName(raw string) string {
	s := strings.ReplaceAll(raw, "$", "ds")
	return replaceInvalid(s)
}

// SanitizeColumnName derives a safe column name from a raw CSV header.
//
// Angle brackets are rewritten to "lt"/"gt" before the generic
// underscore pass so that headers like "<x>" keep a readable form.
// Engine columns must not start with a digit; a leading underscore is
// prepended when they do.
func SanitizeColumnName(raw string) string {
	s := strings.ReplaceAll(raw, "<", "lt")
	s = strings.ReplaceAll(s, ">", "gt")
	s = replaceInvalid(s)
	if len(s) > 0 && s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

func replaceInvalid(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

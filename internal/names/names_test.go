package names

import "testing"

func TestSanitizeTableName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		expect string
	}{
		{"dollar becomes ds", "A$B", "AdsB"},
		{"space becomes underscore", "a b", "a_b"},
		{"already safe", "Hosts_2024", "Hosts_2024"},
		{"dollar before generic pass", "a$ b", "ads_b"},
		{"dots and dashes", "mft.output-v2", "mft_output_v2"},
		{"unicode replaced", "tablé", "tabl_"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SanitizeTableName(tt.in)
			if got != tt.expect {
				t.Fatalf("SanitizeTableName(%q) = %q, want %q", tt.in, got, tt.expect)
			}
		})
	}
}

func TestSanitizeColumnName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		expect string
	}{
		{"angle brackets", "<x>", "ltxgt"},
		{"leading digit", "1col", "_1col"},
		{"spaces", "Entry Number", "Entry_Number"},
		{"mixed", "size<bytes>", "sizeltbytesgt"},
		{"percent", "usage%", "usage_"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SanitizeColumnName(tt.in)
			if got != tt.expect {
				t.Fatalf("SanitizeColumnName(%q) = %q, want %q", tt.in, got, tt.expect)
			}
		})
	}
}

// Sanitization must be idempotent: a sanitized name passed back through
// the sanitizer is unchanged.
func TestSanitizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"A$B", "a b", "<x>", "1col", "weird$<name> 1", "", "ok_name"}

	for _, in := range inputs {
		if once, twice := SanitizeTableName(in), SanitizeTableName(SanitizeTableName(in)); once != twice {
			t.Errorf("SanitizeTableName not idempotent for %q: %q != %q", in, once, twice)
		}
		if once, twice := SanitizeColumnName(in), SanitizeColumnName(SanitizeColumnName(in)); once != twice {
			t.Errorf("SanitizeColumnName not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

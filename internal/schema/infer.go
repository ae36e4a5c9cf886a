package schema

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"kustoingest/internal/names"
)

const defaultSampleRows = 1000

// Option adjusts inference behavior.
type Option func(*options)

type options struct {
	sampleRows int
	delimiter  rune
}

// WithSampleRows bounds the number of data rows examined (header
// excluded). Values < 1 keep the default of 1000.
func WithSampleRows(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.sampleRows = n
		}
	}
}

// WithDelimiter overrides the field delimiter (default ',').
func WithDelimiter(r rune) Option {
	return func(o *options) {
		if r != 0 {
			o.delimiter = r
		}
	}
}

// Infer reads the header and at most the configured number of data rows
// from the delimited file at path and derives a Schema.
//
// Files written by forensic tooling are frequently UTF-16 or carry a
// UTF-8 BOM; the sample is read through a BOM-aware decoder so the
// header row survives intact either way.
//
// A file that cannot be opened, or whose header has zero columns,
// yields an *InferenceError. A file with a header but no data rows
// succeeds with every column typed string and SampledRows == 0.
func Infer(path string, opts ...Option) (Schema, error) {
	o := options{sampleRows: defaultSampleRows, delimiter: ','}
	for _, opt := range opts {
		opt(&o)
	}

	f, err := os.Open(path)
	if err != nil {
		return Schema{}, &InferenceError{Path: path, Err: err}
	}
	defer f.Close()

	header, rows, err := readSample(f, o.delimiter, o.sampleRows)
	if err != nil {
		return Schema{}, &InferenceError{Path: path, Err: err}
	}
	if len(header) == 0 {
		return Schema{}, &InferenceError{Path: path, Err: errors.New("no columns in header")}
	}

	labels := inferTypes(len(header), rows)

	cols := make([]Column, 0, len(header))
	used := make(map[string]int, len(header))
	for i, h := range header {
		name := names.SanitizeColumnName(h)
		// Two headers may sanitize to the same identifier; disambiguate
		// with a stable numeric suffix so the column list stays unique.
		if n, clash := used[name]; clash {
			base := name
			for {
				n++
				name = base + "_" + strconv.Itoa(n)
				if _, taken := used[name]; !taken {
					break
				}
			}
			used[base] = n
		}
		used[name] = 1
		cols = append(cols, Column{Name: name, Type: KustoTypeFor(labels[i])})
	}

	return Schema{Columns: cols, SampledRows: len(rows)}, nil
}

// readSample parses the header plus up to sampleRows data rows.
// Records with a field count different from the header are skipped;
// sampling is best-effort and must not fail on a few bad rows.
func readSample(r io.Reader, delimiter rune, sampleRows int) ([]string, [][]string, error) {
	dec := unicode.UTF8.NewDecoder()
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(dec)))
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil, errors.New("empty file")
		}
		return nil, nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	rows := make([][]string, 0, min(sampleRows, 1024))
	for len(rows) < sampleRows {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if len(rec) != len(header) {
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

// inferTypes assigns a native label per column: "integer", "float",
// "bool", "datetime", or "text". Empty values are ignored; a column
// with no values at all stays text.
func inferTypes(ncols int, rows [][]string) []string {
	out := make([]string, ncols)
	for i := range out {
		out[i] = "text"
	}

	for col := 0; col < ncols; col++ {
		var seen bool
		allInt := true
		allFloat := true
		allBool := true
		allTime := true

		for _, r := range rows {
			if col >= len(r) {
				continue
			}
			v := r[col]
			if v == "" {
				continue
			}
			seen = true

			if allInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					allInt = false
				}
			}
			if allFloat {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					allFloat = false
				}
			}
			if allBool {
				if _, ok := parseBoolLoose(v); !ok {
					allBool = false
				}
			}
			if allTime {
				if _, ok := parseTimeLoose(v); !ok {
					allTime = false
				}
			}
		}

		if !seen {
			continue
		}
		// Prefer more specific types.
		switch {
		case allInt:
			out[col] = "integer"
		case allBool:
			out[col] = "bool"
		case allTime:
			out[col] = "datetime"
		case allFloat:
			out[col] = "float"
		}
	}
	return out
}

func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y":
		return true, true
	case "false", "f", "no", "n":
		return false, true
	default:
		return false, false
	}
}

var timeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.0000000",
	"2006-01-02 15:04:05.0000000",
	"01/02/2006 15:04:05",
}

func parseTimeLoose(s string) (time.Time, bool) {
	for _, lay := range timeLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

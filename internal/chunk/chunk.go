// Package chunk splits a source file into size-bounded chunk files.
//
// Splitting only happens at line boundaries, so every chunk is
// independently valid delimited data. The streaming endpoint has no
// "ignore first record" option, which is why the header line can be
// dropped here: it is conveyed once as schema, never as data.
package chunk

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultChunkSize is the flush threshold in bytes (~7.5 MB, the
// comfortable upper bound for one streaming-ingestion request).
const DefaultChunkSize = 7_500_000

// SplitError reports that the source file could not be split.
type SplitError struct {
	Path string
	Err  error
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("split %s: %v", e.Path, e.Err)
}

func (e *SplitError) Unwrap() error { return e.Err }

// Option adjusts splitting behavior.
type Option func(*options)

type options struct {
	chunkSize  int
	dropHeader bool
}

// WithChunkSize overrides the flush threshold. Values < 1 keep the
// default.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.chunkSize = n
		}
	}
}

// DropHeader discards the first line of the source before accumulation
// begins.
func DropHeader() Option {
	return func(o *options) { o.dropHeader = true }
}

// Split reads the file at path line by line and writes chunk files into
// outDir. A chunk is flushed once its accumulated byte size reaches or
// exceeds the threshold; whatever remains at EOF is flushed as the
// final chunk. Chunk files are named chunk_<i>_<base> with a 1-based
// monotonically increasing index, so re-splitting the same source into
// the same directory overwrites the previous run's chunks.
//
// The returned paths are in write order. Even an empty source produces
// one (empty) chunk, so callers can rely on at least one path.
func Split(path, outDir string, opts ...Option) ([]string, error) {
	o := options{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&o)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &SplitError{Path: path, Err: err}
	}
	defer f.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &SplitError{Path: path, Err: err}
	}

	base := filepath.Base(path)
	r := bufio.NewReader(f)

	if o.dropHeader {
		if _, err := r.ReadBytes('\n'); err != nil && err != io.EOF {
			return nil, &SplitError{Path: path, Err: err}
		}
	}

	var (
		chunks []string
		buf    []byte
		size   int
		index  = 1
	)

	flush := func() error {
		name := filepath.Join(outDir, "chunk_"+strconv.Itoa(index)+"_"+base)
		if err := os.WriteFile(name, buf, 0o644); err != nil {
			return &SplitError{Path: path, Err: err}
		}
		chunks = append(chunks, name)
		index++
		buf = buf[:0]
		size = 0
		return nil
	}

	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			buf = append(buf, line...)
			size += len(line)
			if size >= o.chunkSize {
				if ferr := flush(); ferr != nil {
					return chunks, ferr
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return chunks, &SplitError{Path: path, Err: err}
		}
	}

	// Final partial chunk, or the guaranteed single chunk for an empty
	// (or header-only) source.
	if len(buf) > 0 || len(chunks) == 0 {
		if err := flush(); err != nil {
			return chunks, err
		}
	}

	return chunks, nil
}

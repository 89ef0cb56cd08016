// Package xio opens and creates files, transparently handling gzip
// compression when the path ends in ".gz".
package xio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// IsGzip reports whether path names a gzip file.
func IsGzip(path string) bool {
	return strings.HasSuffix(path, ".gz")
}

// TrimGzip returns path without a trailing ".gz".
func TrimGzip(path string) string {
	return strings.TrimSuffix(path, ".gz")
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens path for reading, decompressing it if it is gzipped.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if !IsGzip(path) {
		return &readCloser{Reader: bufio.NewReaderSize(f, 1<<20), closers: []io.Closer{f}}, nil
	}

	gz, err := gzip.NewReader(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	return &readCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil
}

// ReadFile reads a whole, possibly gzipped, file into memory.
func ReadFile(path string) ([]byte, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

type writeCloser struct {
	*bufio.Writer
	gz *gzip.Writer
	f  *os.File
}

func (w *writeCloser) Close() error {
	err := w.Writer.Flush()
	if w.gz != nil {
		if cerr := w.gz.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Create creates path for writing, gzip-compressing the output if the name
// ends in ".gz". Close flushes every layer.
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	if !IsGzip(path) {
		return &writeCloser{Writer: bufio.NewWriterSize(f, 1<<20), f: f}, nil
	}

	gz := gzip.NewWriter(f)
	return &writeCloser{Writer: bufio.NewWriterSize(gz, 1<<20), gz: gz, f: f}, nil
}

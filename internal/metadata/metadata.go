// Package metadata loads per-sample metadata tables and attaches them to
// tree nodes.
package metadata

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taxonium/usher2taxonium/internal/tree"
	"github.com/taxonium/usher2taxonium/internal/xio"
)

// DefaultKeyColumn is the column matched against node names.
const DefaultKeyColumn = "strain"

const batchSize = 1024

var (
	// ErrKeyColumnMissing is returned when the key column is not in the header.
	ErrKeyColumnMissing = errors.New("key column not found in metadata")
	// ErrEmpty is returned for a file without a header line.
	ErrEmpty = errors.New("empty metadata file")
)

// StringPool interns strings so repeated values share storage.
type StringPool struct {
	mu sync.Mutex
	m  map[string]string
}

// NewStringPool creates an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{m: make(map[string]string)}
}

// Intern returns the pooled copy of s.
func (p *StringPool) Intern(s string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.m[s]; ok {
		return v
	}
	s = strings.Clone(s)
	p.m[s] = s
	return s
}

// Len returns the number of distinct strings.
func (p *StringPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// Separator returns the field separator for a metadata file name: tab for
// .tsv, comma otherwise.
func Separator(path string) byte {
	if strings.HasSuffix(strings.ToLower(xio.TrimGzip(path)), ".tsv") {
		return '\t'
	}
	return ','
}

type row struct {
	line   int
	values map[string]string
}

// Reader holds metadata rows keyed by sample name.
type Reader struct {
	workers int
	logger  *zap.Logger
	pool    *StringPool

	columns []string

	mu   sync.Mutex
	rows map[string]row
}

// NewReader creates an empty reader.
func NewReader() *Reader {
	return &Reader{
		logger: zap.NewNop(),
		pool:   NewStringPool(),
		rows:   make(map[string]row),
	}
}

// SetLogger sets the logger.
func (r *Reader) SetLogger(l *zap.Logger) {
	r.logger = l
}

// SetWorkers sets the number of parsing workers. 0 means runtime.NumCPU().
func (r *Reader) SetWorkers(n int) {
	r.workers = n
}

// Load reads a metadata file. columns selects the columns to keep; when
// empty every column other than keyColumn is kept.
func (r *Reader) Load(ctx context.Context, path string, columns []string, keyColumn string) error {
	f, err := xio.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := r.LoadFrom(ctx, f, Separator(path), columns, keyColumn); err != nil {
		return fmt.Errorf("load metadata %s: %w", path, err)
	}
	return nil
}

type batch struct {
	first int
	lines []string
}

// LoadFrom reads a metadata table from rd. One goroutine reads lines while
// workers split and intern them. When a key repeats, the last row wins.
func (r *Reader) LoadFrom(ctx context.Context, rd io.Reader, sep byte, columns []string, keyColumn string) error {
	if keyColumn == "" {
		keyColumn = DefaultKeyColumn
	}
	scanner := bufio.NewScanner(rd)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		return ErrEmpty
	}
	header := splitLine(scanner.Text(), sep)

	keyIdx := -1
	for i, h := range header {
		if h == keyColumn {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return fmt.Errorf("%w: %q", ErrKeyColumnMissing, keyColumn)
	}

	var idx []int
	r.columns = r.columns[:0]
	if len(columns) == 0 {
		for i, h := range header {
			if i != keyIdx {
				idx = append(idx, i)
				r.columns = append(r.columns, r.pool.Intern(h))
			}
		}
	} else {
		for _, col := range columns {
			found := -1
			for i, h := range header {
				if h == col {
					found = i
					break
				}
			}
			switch {
			case found < 0:
				r.logger.Warn("metadata column not found", zap.String("column", col))
			case found == keyIdx:
				r.logger.Warn("key column cannot be emitted as metadata", zap.String("column", col))
			default:
				idx = append(idx, found)
				r.columns = append(r.columns, r.pool.Intern(col))
			}
		}
	}

	workers := r.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)
	batches := make(chan batch, workers)

	g.Go(func() error {
		defer close(batches)
		b := batch{first: 2}
		line := 1
		for scanner.Scan() {
			line++
			b.lines = append(b.lines, scanner.Text())
			if len(b.lines) == batchSize {
				select {
				case batches <- b:
				case <-ctx.Done():
					return ctx.Err()
				}
				b = batch{first: line + 1}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read line %d: %w", line+1, err)
		}
		if len(b.lines) > 0 {
			select {
			case batches <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for range workers {
		g.Go(func() error {
			for b := range batches {
				r.parseBatch(b, sep, keyIdx, idx)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	r.logger.Info("loaded metadata",
		zap.Int("samples", len(r.rows)),
		zap.Int("columns", len(r.columns)),
		zap.Int("pooled_strings", r.pool.Len()))
	return nil
}

func (r *Reader) parseBatch(b batch, sep byte, keyIdx int, idx []int) {
	for i, text := range b.lines {
		fields := splitLine(text, sep)
		if keyIdx >= len(fields) || fields[keyIdx] == "" {
			continue
		}
		values := make(map[string]string, len(idx))
		for j, fi := range idx {
			if fi < len(fields) {
				values[r.columns[j]] = r.pool.Intern(fields[fi])
			}
		}
		key := r.pool.Intern(fields[keyIdx])
		line := b.first + i

		r.mu.Lock()
		if prev, ok := r.rows[key]; !ok || prev.line < line {
			r.rows[key] = row{line: line, values: values}
		}
		r.mu.Unlock()
	}
}

// splitLine splits one record on sep. Quoted fields may contain sep and
// doubled quotes; stray quotes inside unquoted fields are kept as is.
func splitLine(line string, sep byte) []string {
	cr := csv.NewReader(strings.NewReader(strings.TrimRight(line, "\r")))
	cr.Comma = rune(sep)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	fields, err := cr.Read()
	if err != nil {
		return nil
	}
	return fields
}

// Columns returns the kept columns in output order.
func (r *Reader) Columns() []string {
	return r.columns
}

// Len returns the number of samples.
func (r *Reader) Len() int {
	return len(r.rows)
}

// Row returns the values for a sample.
func (r *Reader) Row(key string) (map[string]string, bool) {
	rw, ok := r.rows[key]
	return rw.values, ok
}

// Apply sets Metadata on every named node that has a row, and returns the
// number of matched nodes.
func (r *Reader) Apply(t *tree.Tree) int {
	matched := 0
	t.PreOrder(func(n *tree.Node) {
		if n.Name == "" {
			return
		}
		if rw, ok := r.rows[n.Name]; ok {
			n.Metadata = rw.values
			matched++
		}
	})
	r.logger.Info("matched metadata", zap.Int("nodes", matched))
	return matched
}

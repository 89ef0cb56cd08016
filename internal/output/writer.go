package output

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// DefaultChunkSize is the number of node lines encoded per work item.
const DefaultChunkSize = 10000

// WorkItem is a contiguous range of node ids to encode.
type WorkItem struct {
	Seq        int
	Start, End int
}

// WorkResult holds the encoded lines of one work item.
type WorkResult struct {
	Seq   int
	Lines int
	Data  []byte
	Err   error
}

// ParallelEncode encodes work items using a pool of workers.
// Results are sent to the returned channel in arrival order (not sequence order).
// Use OrderedCollect to consume results in sequence-number order.
// If workers is 0, runtime.NumCPU() is used.
func (d *Document) ParallelEncode(items <-chan WorkItem, workers int) <-chan WorkResult {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan WorkResult, 2*workers)

	var wg sync.WaitGroup
	wg.Add(workers)

	for range workers {
		go func() {
			defer wg.Done()
			for item := range items {
				var (
					buf []byte
					err error
				)
				for i := item.Start; i < item.End && err == nil; i++ {
					buf, err = d.AppendLine(buf, i)
				}
				results <- WorkResult{
					Seq:   item.Seq,
					Lines: item.End - item.Start,
					Data:  buf,
					Err:   err,
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// OrderedCollect calls fn for each result in sequence-number order.
// It buffers out-of-order results in a pending map and emits them
// as soon as the next expected sequence number is available.
// Blocks until the results channel is closed.
func OrderedCollect(results <-chan WorkResult, fn func(WorkResult) error) error {
	pending := make(map[int]WorkResult)
	nextSeq := 0

	for r := range results {
		pending[r.Seq] = r

		for {
			rr, ok := pending[nextSeq]
			if !ok {
				break
			}
			delete(pending, nextSeq)
			nextSeq++
			if err := fn(rr); err != nil {
				// Drain remaining results to unblock workers.
				for range results {
				}
				return err
			}
		}
	}

	return nil
}

// Writer writes a Document as JSONL.
type Writer struct {
	w         io.Writer
	workers   int
	chunkSize int
	logger    *zap.Logger
	progress  func(done int)
}

// NewWriter creates a writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:         w,
		chunkSize: DefaultChunkSize,
		logger:    zap.NewNop(),
	}
}

// SetWorkers sets the number of encoding workers. 0 means runtime.NumCPU().
func (w *Writer) SetWorkers(n int) {
	w.workers = n
}

// SetChunkSize sets the number of node lines per work item.
func (w *Writer) SetChunkSize(n int) {
	if n > 0 {
		w.chunkSize = n
	}
}

// SetLogger sets the logger.
func (w *Writer) SetLogger(l *zap.Logger) {
	w.logger = l
}

// SetProgress registers a callback receiving the number of node lines
// written so far.
func (w *Writer) SetProgress(fn func(done int)) {
	w.progress = fn
}

// Write writes the header line followed by every node line in id order.
func (w *Writer) Write(ctx context.Context, d *Document, now time.Time) error {
	header, err := json.MarshalNoEscape(d.Header(now))
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if _, err := w.w.Write(append(header, '\n')); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	items := make(chan WorkItem)
	go func() {
		defer close(items)
		seq := 0
		for start := 0; start < len(d.Nodes); start += w.chunkSize {
			end := min(start+w.chunkSize, len(d.Nodes))
			select {
			case items <- WorkItem{Seq: seq, Start: start, End: end}:
			case <-ctx.Done():
				return
			}
			seq++
		}
	}()

	written := 0
	err = OrderedCollect(d.ParallelEncode(items, w.workers), func(r WorkResult) error {
		if r.Err != nil {
			return fmt.Errorf("encode nodes %d: %w", r.Seq*w.chunkSize, r.Err)
		}
		if _, err := w.w.Write(r.Data); err != nil {
			return fmt.Errorf("write nodes: %w", err)
		}
		written += r.Lines
		if w.progress != nil {
			w.progress(written)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.logger.Info("wrote taxonium document",
		zap.Int("nodes", written),
		zap.Int("mutations", d.Catalog.Len()))
	return nil
}

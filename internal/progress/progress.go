// Package progress logs throttled progress for long whole-tree passes.
package progress

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the minimum time between two progress entries.
const DefaultInterval = 2 * time.Second

// Reporter tracks progress of one pass and logs it at most once per
// interval. It is safe for concurrent use.
type Reporter struct {
	logger   *zap.Logger
	desc     string
	total    int
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	done     int
	started  time.Time
	lastLog  time.Time
	finished bool
}

// New creates a reporter for a pass over total items. total may be 0 when
// unknown.
func New(logger *zap.Logger, desc string, total int) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		logger:   logger,
		desc:     desc,
		total:    total,
		interval: DefaultInterval,
		now:      time.Now,
	}
	r.started = r.now()
	r.lastLog = r.started
	return r
}

// SetInterval changes the throttle interval.
func (r *Reporter) SetInterval(d time.Duration) {
	r.mu.Lock()
	r.interval = d
	r.mu.Unlock()
}

// Add advances the count by n.
func (r *Reporter) Add(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done += n
	r.maybeLog()
}

// Set sets the count to done. Smaller values than the current count are
// ignored.
func (r *Reporter) Set(done int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if done > r.done {
		r.done = done
	}
	r.maybeLog()
}

// Callback returns a function suitable for SetProgress setters that pass
// a running count.
func (r *Reporter) Callback() func(done int) {
	return r.Set
}

// Count returns the current count.
func (r *Reporter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Done logs the final count once.
func (r *Reporter) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	r.logger.Info(r.desc+" done",
		zap.Int("count", r.done),
		zap.Duration("elapsed", r.now().Sub(r.started)))
}

func (r *Reporter) maybeLog() {
	now := r.now()
	if now.Sub(r.lastLog) < r.interval {
		return
	}
	r.lastLog = now
	fields := []zap.Field{zap.Int("count", r.done)}
	if r.total > 0 {
		fields = append(fields,
			zap.Int("total", r.total),
			zap.String("percent", percent(r.done, r.total)))
	}
	r.logger.Info(r.desc, fields...)
}

func percent(done, total int) string {
	return fmt.Sprintf("%.1f%%", float64(done)/float64(total)*100)
}

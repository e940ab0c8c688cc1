// Package progress reports the advance of long recorder operations and
// carries cancellation requests back from the caller.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrCancelled is returned internally when a Bridge asks to stop.
var ErrCancelled = errors.New("operation cancelled")

// Bridge is implemented by whatever displays progress for a long operation.
type Bridge interface {
	Begin(totalUnits int)
	Worked(units int)
	IsCancelled() bool
	Done()
}

// Nop is a Bridge that reports nothing and never cancels.
var Nop Bridge = nop{}

type nop struct{}

func (nop) Begin(int)         {}
func (nop) Worked(int)        {}
func (nop) IsCancelled() bool { return false }
func (nop) Done()             {}

// Or returns b, or Nop when b is nil.
func Or(b Bridge) Bridge {
	if b == nil {
		return Nop
	}
	return b
}

// Check returns ErrCancelled when b asks to stop.
func Check(b Bridge) error {
	if b.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// LogReporter logs progress every 10 percent.
type LogReporter struct {
	logger *slog.Logger
	task   string

	mu     sync.Mutex
	total  int
	done   int
	lastPc int
}

// NewLogReporter returns a Bridge that logs the progress of task.
func NewLogReporter(logger *slog.Logger, task string) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger, task: task}
}

func (r *LogReporter) Begin(totalUnits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total, r.done, r.lastPc = totalUnits, 0, 0
	r.logger.Info("Task started", "task", r.task, "units", totalUnits)
}

func (r *LogReporter) Worked(units int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done += units
	if r.total <= 0 {
		return
	}
	pc := r.done * 100 / r.total
	if pc >= r.lastPc+10 {
		r.lastPc = pc - pc%10
		r.logger.Debug("Task progress", "task", r.task, "percent", r.lastPc)
	}
}

func (r *LogReporter) IsCancelled() bool { return false }

func (r *LogReporter) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Info("Task finished", "task", r.task, "units", r.done)
}

type ctxBridge struct {
	Bridge
	ctx context.Context
}

// WithContext wraps b so that it also reports cancellation of ctx.
func WithContext(ctx context.Context, b Bridge) Bridge {
	return ctxBridge{Bridge: Or(b), ctx: ctx}
}

func (c ctxBridge) IsCancelled() bool {
	return c.ctx.Err() != nil || c.Bridge.IsCancelled()
}

// Package debounce provides a latest-wins scheduler for repeated async work
// keyed by rapidly changing input, e.g. a pricing preview re-issued on every
// promo code keystroke. Scheduling a new task invalidates any previous
// uncompleted task's ability to apply its result, regardless of the order in
// which the underlying calls resolve.
package debounce

import (
	"context"
	"sync"
	"time"
)

// Task receives an apply guard: apply returns true only while the task is
// still the latest scheduled one, and results must be applied only then.
type Task func(ctx context.Context, apply func() bool)

type pendingTask struct {
	ctx  context.Context
	seq  uint64
	task Task
}

type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	seq     uint64
	timer   *time.Timer
	pending *pendingTask
}

// New creates a debouncer with the given settle delay. A non-positive delay
// defaults to 300ms.
func New(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = 300 * time.Millisecond
	}
	return &Debouncer{delay: delay}
}

// Schedule arranges for task to run after the settle delay, superseding any
// previously scheduled task.
func (d *Debouncer) Schedule(ctx context.Context, task Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	d.pending = &pendingTask{ctx: ctx, seq: d.seq, task: task}

	if d.timer != nil {
		d.timer.Stop()
	}
	seq := d.seq
	d.timer = time.AfterFunc(d.delay, func() {
		d.fire(seq)
	})
}

// Flush runs the pending task immediately instead of waiting out the delay.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.fire(seq)
}

// Cancel invalidates the pending task without running it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	p := d.pending
	if p == nil || p.seq != seq {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	d.mu.Unlock()

	if p.ctx.Err() != nil {
		return
	}
	p.task(p.ctx, func() bool { return d.isCurrent(seq) })
}

func (d *Debouncer) isCurrent(seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq == seq
}

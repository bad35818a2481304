// Package loop provides the single goroutine that owns every live map
// instance. Other goroutines hand work to it with Post or Do; animation
// callbacks are scheduled per frame.
package loop

import (
	"context"
	"time"
)

// FrameID identifies a pending frame callback.
type FrameID uint64

// Scheduler is the contract every map-mutating component runs against.
type Scheduler interface {
	// Post queues fn to run on the loop goroutine.
	Post(fn func())
	// Do runs fn on the loop goroutine and waits for it to return.
	Do(ctx context.Context, fn func()) error
	// RequestFrame runs fn once on the next frame. Must be called from the loop.
	RequestFrame(fn func(now time.Time)) FrameID
	CancelFrame(id FrameID)
	// Go runs work off the loop and posts the continuation it returns.
	Go(work func() (then func()))
	// After runs fn on the loop goroutine once d has elapsed.
	After(d time.Duration, fn func()) (cancel func())
	Now() time.Time
}

// DefaultFrameInterval is roughly 60 frames per second.
const DefaultFrameInterval = 16 * time.Millisecond

// Loop is the production Scheduler.
type Loop struct {
	tasks    chan func()
	interval time.Duration
	frames   map[FrameID]func(time.Time)
	nextID   FrameID
}

// New creates a loop that ticks frames every interval.
func New(interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Loop{
		tasks:    make(chan func(), 256),
		interval: interval,
		frames:   make(map[FrameID]func(time.Time)),
	}
}

// Run processes tasks and frames until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			fn()
		case now := <-ticker.C:
			l.runFrames(now)
		}
	}
}

func (l *Loop) runFrames(now time.Time) {
	if len(l.frames) == 0 {
		return
	}
	// Callbacks requested while running belong to the next frame.
	due := l.frames
	l.frames = make(map[FrameID]func(time.Time))
	for _, fn := range due {
		fn(now)
	}
}

func (l *Loop) Post(fn func()) {
	l.tasks <- fn
}

func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case l.tasks <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) Go(work func() func()) {
	go func() {
		if then := work(); then != nil {
			l.Post(then)
		}
	}()
}

func (l *Loop) RequestFrame(fn func(time.Time)) FrameID {
	l.nextID++
	l.frames[l.nextID] = fn
	return l.nextID
}

func (l *Loop) CancelFrame(id FrameID) {
	delete(l.frames, id)
}

func (l *Loop) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return func() { t.Stop() }
}

func (l *Loop) Now() time.Time { return time.Now() }

package loop

import (
	"context"
	"sort"
	"time"
)

// Manual is a deterministic Scheduler driven by the caller. The calling
// goroutine plays the part of the loop goroutine.
type Manual struct {
	now    time.Time
	queue  []func()
	frames map[FrameID]func(time.Time)
	order  []FrameID
	nextID FrameID
	timers []*manualTimer
}

type manualTimer struct {
	due       time.Time
	fn        func()
	cancelled bool
}

// NewManual returns a Manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, frames: make(map[FrameID]func(time.Time))}
}

func (m *Manual) Post(fn func()) {
	m.queue = append(m.queue, fn)
}

// Do runs fn inline.
func (m *Manual) Do(_ context.Context, fn func()) error {
	fn()
	return nil
}

// Go runs work inline; the continuation is queued for the next Drain.
func (m *Manual) Go(work func() func()) {
	if then := work(); then != nil {
		m.Post(then)
	}
}

func (m *Manual) RequestFrame(fn func(time.Time)) FrameID {
	m.nextID++
	m.frames[m.nextID] = fn
	m.order = append(m.order, m.nextID)
	return m.nextID
}

func (m *Manual) CancelFrame(id FrameID) {
	delete(m.frames, id)
}

func (m *Manual) After(d time.Duration, fn func()) func() {
	t := &manualTimer{due: m.now.Add(d), fn: fn}
	m.timers = append(m.timers, t)
	return func() { t.cancelled = true }
}

func (m *Manual) Now() time.Time { return m.now }

// Drain runs queued tasks, including ones queued while draining.
func (m *Manual) Drain() int {
	n := 0
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
		n++
	}
	return n
}

// Frame runs the callbacks pending for the current frame and drains tasks.
func (m *Manual) Frame() int {
	order := m.order
	m.order = nil
	n := 0
	for _, id := range order {
		fn, ok := m.frames[id]
		if !ok {
			continue
		}
		delete(m.frames, id)
		fn(m.now)
		n++
	}
	m.Drain()
	return n
}

// PendingFrames reports the number of frame callbacks waiting to run.
func (m *Manual) PendingFrames() int {
	return len(m.frames)
}

// Advance moves the clock forward, fires due timers in order and drains.
func (m *Manual) Advance(d time.Duration) {
	m.now = m.now.Add(d)
	m.Drain()
	for {
		sort.SliceStable(m.timers, func(i, j int) bool { return m.timers[i].due.Before(m.timers[j].due) })
		if len(m.timers) == 0 || m.timers[0].due.After(m.now) {
			return
		}
		t := m.timers[0]
		m.timers = m.timers[1:]
		if !t.cancelled {
			t.fn()
		}
		m.Drain()
	}
}

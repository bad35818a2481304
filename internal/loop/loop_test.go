package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopDoRunsOnLoop(t *testing.T) {
	l := New(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var ran atomic.Bool
	if err := l.Do(ctx, func() { ran.Store(true) }); err != nil {
		t.Fatal(err)
	}
	if !ran.Load() {
		t.Fatal("Do returned before fn ran")
	}
}

func TestLoopFramesFireOnce(t *testing.T) {
	l := New(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{}, 4)
	_ = l.Do(ctx, func() {
		l.RequestFrame(func(time.Time) { fired <- struct{}{} })
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("frame callback never ran")
	}
	select {
	case <-fired:
		t.Fatal("frame callback ran twice")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestManualFrameAndCancel(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var a, b int
	m.RequestFrame(func(time.Time) { a++ })
	id := m.RequestFrame(func(time.Time) { b++ })
	m.CancelFrame(id)

	if n := m.Frame(); n != 1 {
		t.Fatalf("ran %d callbacks, want 1", n)
	}
	if a != 1 || b != 0 {
		t.Fatalf("a=%d b=%d", a, b)
	}
	if m.Frame() != 0 {
		t.Fatal("frame callbacks must not repeat")
	}
}

func TestManualAfterOrdering(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var got []string
	m.After(20*time.Millisecond, func() { got = append(got, "late") })
	m.After(10*time.Millisecond, func() { got = append(got, "early") })
	cancel := m.After(15*time.Millisecond, func() { got = append(got, "cancelled") })
	cancel()

	m.Advance(5 * time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("fired too early: %v", got)
	}
	m.Advance(time.Second)
	if len(got) != 2 || got[0] != "early" || got[1] != "late" {
		t.Fatalf("got %v", got)
	}
}

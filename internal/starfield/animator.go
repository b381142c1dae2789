package starfield

import (
	"context"
	"fmt"
	"time"
)

// DefaultFrameInterval is the animator tick, roughly 60 frames per second.
const DefaultFrameInterval = time.Second / 60

// Frame is one rendered step of the field.
type Frame struct {
	Seq     uint64   `json:"seq"`
	Width   float64  `json:"width"`
	Height  float64  `json:"height"`
	Palette []string `json:"palette"`
	Stars   []Star   `json:"stars"`
}

// Sink receives frames. Returning an error stops the animator.
type Sink func(ctx context.Context, f Frame) error

type viewport struct{ w, h float64 }

// AnimatorOption configures an [Animator].
type AnimatorOption func(*Animator)

// WithFrameInterval sets the tick interval.
func WithFrameInterval(d time.Duration) AnimatorOption {
	return func(a *Animator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithTicks replaces the internal ticker with ticks, for deterministic
// stepping in tests.
func WithTicks(ticks <-chan time.Time) AnimatorOption {
	return func(a *Animator) { a.ticks = ticks }
}

// Animator runs the per-frame loop of one Field.
type Animator struct {
	field    *Field
	sink     Sink
	interval time.Duration
	ticks    <-chan time.Time
	resize   chan viewport
	seq      uint64
}

// NewAnimator creates an animator for field. Frames are delivered to sink.
func NewAnimator(field *Field, sink Sink, opts ...AnimatorOption) *Animator {
	a := &Animator{
		field:    field,
		sink:     sink,
		interval: DefaultFrameInterval,
		resize:   make(chan viewport, 1),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Resize requests a new viewport. It never blocks: a pending request that
// the loop has not applied yet is replaced.
func (a *Animator) Resize(width, height float64) {
	v := viewport{width, height}
	for {
		select {
		case a.resize <- v:
			return
		default:
		}
		select {
		case <-a.resize:
		default:
		}
	}
}

// Run drives the field until ctx is cancelled or the sink fails. Resize
// requests are applied between frames, so the population is never swapped
// while a frame is being built. A cancelled context is not an error.
func (a *Animator) Run(ctx context.Context) error {
	ticks := a.ticks
	if ticks == nil {
		t := time.NewTicker(a.interval)
		defer t.Stop()
		ticks = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-a.resize:
			a.field.Resize(v.w, v.h)
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := a.frame(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *Animator) frame(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	a.field.Step()
	a.seq++
	w, h := a.field.Size()
	f := Frame{
		Seq:     a.seq,
		Width:   w,
		Height:  h,
		Palette: a.field.params.Palette,
		Stars:   a.field.Stars(),
	}
	if err := a.sink(ctx, f); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("starfield: sink: %w", err)
	}
	return nil
}

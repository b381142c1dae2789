// Package starfield simulates the decorative starfield and aurora backdrop.
//
// A [Field] holds the particle population and advances it one frame at a
// time. An [Animator] drives a Field from a single goroutine, applies resize
// requests between frames, and hands every frame to a sink.
package starfield

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// AuroraPalette is the default set of aurora band colours.
var AuroraPalette = []string{
	"rgba(0, 255, 127, 0.7)",
	"rgba(0, 200, 255, 0.6)",
	"rgba(100, 0, 255, 0.5)",
	"rgba(255, 100, 200, 0.4)",
}

// Params configures a Field. All variants of the backdrop are expressed as
// different Params.
type Params struct {
	Count    int      `json:"count" yaml:"count"`
	Palette  []string `json:"palette" yaml:"palette"`
	Parallax bool     `json:"parallax" yaml:"parallax"`

	// Depth is the exclusive upper bound of a star's z coordinate.
	Depth float64 `json:"depth" yaml:"depth"`

	MinSize  float64 `json:"minSize" yaml:"min_size"`
	MaxSize  float64 `json:"maxSize" yaml:"max_size"`
	MinSpeed float64 `json:"minSpeed" yaml:"min_speed"`
	MaxSpeed float64 `json:"maxSpeed" yaml:"max_speed"`

	// Twinkle is the maximum opacity change per frame in either direction.
	Twinkle    float64 `json:"twinkle" yaml:"twinkle"`
	MinOpacity float64 `json:"minOpacity" yaml:"min_opacity"`
}

// Defaults returns the standard backdrop parameters.
func Defaults() Params {
	return Params{
		Count:      800,
		Palette:    append([]string(nil), AuroraPalette...),
		Parallax:   true,
		Depth:      5,
		MinSize:    0.5,
		MaxSize:    2,
		MinSpeed:   0.05,
		MaxSpeed:   0.25,
		Twinkle:    0.015,
		MinOpacity: 0.2,
	}
}

// Validate reports inconsistent parameters.
func (p Params) Validate() error {
	var errs []error
	if p.Count < 0 {
		errs = append(errs, fmt.Errorf("count %d is negative", p.Count))
	}
	if p.Depth <= 0 {
		errs = append(errs, fmt.Errorf("depth %g must be positive", p.Depth))
	}
	if p.MinSize < 0 || p.MaxSize < p.MinSize {
		errs = append(errs, fmt.Errorf("size range [%g, %g] is invalid", p.MinSize, p.MaxSize))
	}
	if p.MinSpeed < 0 || p.MaxSpeed < p.MinSpeed {
		errs = append(errs, fmt.Errorf("speed range [%g, %g] is invalid", p.MinSpeed, p.MaxSpeed))
	}
	if p.MinOpacity < 0 || p.MinOpacity > 1 {
		errs = append(errs, fmt.Errorf("min opacity %g is outside [0, 1]", p.MinOpacity))
	}
	if p.Twinkle < 0 {
		errs = append(errs, fmt.Errorf("twinkle %g is negative", p.Twinkle))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("starfield: %w", err)
	}
	return nil
}

// Star is one particle. Size is the radius to draw, already scaled by depth
// when parallax is enabled.
type Star struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Size    float64 `json:"size"`
	Opacity float64 `json:"opacity"`
	Speed   float64 `json:"speed"`
}

// Field is a population of stars inside a width×height viewport.
// It is not safe for concurrent use.
type Field struct {
	params Params
	rng    *rand.Rand
	width  float64
	height float64
	stars  []Star
}

// NewField creates an empty field. Call [Field.Resize] to populate it.
func NewField(p Params, seed uint64) (*Field, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Field{
		params: p,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Params returns the field parameters.
func (f *Field) Params() Params { return f.params }

// Size returns the viewport dimensions.
func (f *Field) Size() (width, height float64) { return f.width, f.height }

// Resize sets the viewport and re-seeds the whole population. Non-positive
// dimensions clear the field.
func (f *Field) Resize(width, height float64) {
	f.width, f.height = width, height
	if width <= 0 || height <= 0 {
		f.stars = f.stars[:0]
		return
	}
	p := f.params
	f.stars = make([]Star, p.Count)
	for i := range f.stars {
		f.stars[i] = Star{
			X:       f.rng.Float64() * width,
			Y:       f.rng.Float64() * height,
			Z:       f.rng.Float64() * p.Depth,
			Size:    p.MinSize + f.rng.Float64()*(p.MaxSize-p.MinSize),
			Opacity: p.MinOpacity + f.rng.Float64()*(1-p.MinOpacity),
			Speed:   p.MinSpeed + f.rng.Float64()*(p.MaxSpeed-p.MinSpeed),
		}
	}
}

// Step advances every star by one frame: drift down, wrap at the bottom and
// twinkle within [MinOpacity, 1].
func (f *Field) Step() {
	p := f.params
	for i := range f.stars {
		s := &f.stars[i]
		dy := s.Speed
		if p.Parallax {
			dy *= s.Z / p.Depth
		}
		s.Y += dy
		if s.Y > f.height {
			s.Y = 0
		}
		s.Opacity += (f.rng.Float64()*2 - 1) * p.Twinkle
		s.Opacity = min(1, max(p.MinOpacity, s.Opacity))
	}
}

// Stars returns a copy of the population with draw sizes applied.
func (f *Field) Stars() []Star {
	out := make([]Star, len(f.stars))
	copy(out, f.stars)
	if f.params.Parallax {
		for i := range out {
			out[i].Size *= out[i].Z / f.params.Depth
		}
	}
	return out
}

// Len returns the number of stars.
func (f *Field) Len() int { return len(f.stars) }

// Package story holds the narrative playback model: beats, scripts and the
// Sequencer that reveals a script one beat at a time with typing pacing.
package story

import (
	"errors"
	"fmt"
)

// Kind distinguishes text beats from image beats.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// IsValid reports whether k is a known beat kind.
func (k Kind) IsValid() bool {
	return k == KindText || k == KindImage
}

// Beat is one unit of narrative content.
type Beat struct {
	ID      string `json:"id" yaml:"id"`
	Kind    Kind   `json:"type" yaml:"kind"`
	Content string `json:"content" yaml:"content"`

	// MediaRef points at an image resource. Only image beats carry one.
	MediaRef string `json:"imageUrl,omitempty" yaml:"media_ref,omitempty"`
}

var (
	// ErrDuplicateBeat is returned by NewScript when two beats share an id.
	ErrDuplicateBeat = errors.New("story: duplicate beat id")

	// ErrInvalidBeat is returned by NewScript for malformed beats.
	ErrInvalidBeat = errors.New("story: invalid beat")
)

// Script is an immutable, ordered sequence of beats. The zero value is an
// empty script.
type Script struct {
	beats []Beat
}

// NewScript validates beats and returns a Script revealing them in the given
// order. The slice is copied.
func NewScript(beats ...Beat) (Script, error) {
	seen := make(map[string]struct{}, len(beats))
	var errs []error
	for i, b := range beats {
		if b.ID == "" {
			errs = append(errs, fmt.Errorf("%w: beat %d has empty id", ErrInvalidBeat, i))
			continue
		}
		if _, dup := seen[b.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateBeat, b.ID))
		}
		seen[b.ID] = struct{}{}
		if !b.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%w: beat %q has unknown kind %q", ErrInvalidBeat, b.ID, b.Kind))
		}
		if b.Kind == KindText && b.MediaRef != "" {
			errs = append(errs, fmt.Errorf("%w: text beat %q carries a media ref", ErrInvalidBeat, b.ID))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Script{}, err
	}
	return Script{beats: append([]Beat(nil), beats...)}, nil
}

// MustScript is NewScript for static tables known to be valid. It panics on
// error.
func MustScript(beats ...Beat) Script {
	s, err := NewScript(beats...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of beats.
func (s Script) Len() int { return len(s.beats) }

// Beat returns the i-th beat.
func (s Script) Beat(i int) Beat { return s.beats[i] }

// Beats returns a copy of the beats in reveal order.
func (s Script) Beats() []Beat { return append([]Beat(nil), s.beats...) }

// RevealState is the Sequencer's cursor over a script. Revealed is always a
// prefix of the script being played.
type RevealState struct {
	Revealed    []Beat `json:"revealed"`
	IsRevealing bool   `json:"isRevealing"`
	NextIndex   int    `json:"nextIndex"`
}

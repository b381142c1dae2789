// Package character holds the immutable table of storytelling personas and
// the scripts they narrate.
//
// The table is built once at startup into a Catalog and passed to every
// component that needs it. Nothing in this package is mutable after
// construction.
package character

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/skystories/internal/story"
)

// ErrUnknownCharacter is returned for ids that are not in the catalog.
var ErrUnknownCharacter = errors.New("character: unknown character")

// namePlaceholder is replaced with the character's display name in persona
// instructions.
const namePlaceholder = "{{name}}"

// Persona describes how the hosted agent should play a character.
type Persona struct {
	Personality   string `json:"personality" yaml:"personality"`
	Background    string `json:"background" yaml:"background"`
	Expertise     string `json:"expertise" yaml:"expertise"`
	SpeakingStyle string `json:"speakingStyle" yaml:"speaking_style"`
	Instructions  string `json:"instructions" yaml:"instructions"`
}

// Character is one storytelling persona.
type Character struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Emoji       string  `json:"emoji" yaml:"emoji"`
	Avatar      string  `json:"avatar" yaml:"avatar"`
	Description string  `json:"description" yaml:"description"`
	Color       string  `json:"color" yaml:"color"`
	Persona     Persona `json:"persona" yaml:"persona"`

	// Story and Impact are the two narrative beats of the static script.
	Story  string `json:"-" yaml:"story"`
	Impact string `json:"-" yaml:"impact"`

	// FollowUps are canned answers used when no language model is available.
	FollowUps []string `json:"-" yaml:"follow_ups"`

	// Fallback is the one-line answer of last resort.
	Fallback string `json:"-" yaml:"fallback"`
}

// DisplayName returns the name without its leading emoji, e.g.
// "Farmer Sarah" for "👩‍🌾 Farmer Sarah".
func (c Character) DisplayName() string {
	fields := strings.Fields(c.Name)
	if len(fields) > 1 && !startsWithLetter(fields[0]) {
		return strings.Join(fields[1:], " ")
	}
	return c.Name
}

// GreetingName returns the word the character introduces itself with: the
// first word of the display name.
func (c Character) GreetingName() string {
	fields := strings.Fields(c.DisplayName())
	if len(fields) == 0 {
		return c.ID
	}
	return fields[0]
}

// Instructions returns the persona instructions with the display name
// filled in.
func (c Character) Instructions() string {
	return strings.ReplaceAll(c.Persona.Instructions, namePlaceholder, c.DisplayName())
}

func (c Character) clone() Character {
	c.FollowUps = append([]string(nil), c.FollowUps...)
	return c
}

func startsWithLetter(s string) bool {
	for _, r := range s {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	}
	return false
}

func (c Character) validate() error {
	var errs []error
	if c.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, fmt.Errorf("character %q: name is required", c.ID))
	}
	if c.Story == "" || c.Impact == "" {
		errs = append(errs, fmt.Errorf("character %q: story and impact are required", c.ID))
	}
	return errors.Join(errs...)
}

// ── Scripts ───────────────────────────────────────────────────────────────────

// Beat ids of the five-part story every character narrates.
const (
	BeatIntro      = "intro"
	BeatMainStory  = "main-story"
	BeatImageStory = "image-story"
	BeatImpact     = "impact"
	BeatConclusion = "conclusion"
)

// Parts are the replaceable pieces of a character script.
type Parts struct {
	Intro   string
	Story   string
	Caption string
	Image   string
	Impact  string
}

// Static beat texts shared by every character.
const (
	imageCaption = "Here's what space weather looks like from my perspective:"
	conclusion   = "That's my story! Space weather connects us all in different ways. What questions do you have about my experience?"
)

// StaticParts returns the script parts from the character table.
func (c Character) StaticParts() Parts {
	return Parts{
		Intro:   fmt.Sprintf("Hi there! I'm %s and I'm excited to share my story about space weather with you! 🌟", c.GreetingName()),
		Story:   c.Story,
		Caption: imageCaption,
		Image:   c.Avatar,
		Impact:  c.Impact,
	}
}

// Script builds the five-beat story for c from p. Empty parts fall back to
// the static ones.
func (c Character) Script(p Parts) story.Script {
	static := c.StaticParts()
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return story.MustScript(
		story.Beat{ID: BeatIntro, Kind: story.KindText, Content: pick(p.Intro, static.Intro)},
		story.Beat{ID: BeatMainStory, Kind: story.KindText, Content: pick(p.Story, static.Story)},
		story.Beat{
			ID:       BeatImageStory,
			Kind:     story.KindImage,
			Content:  pick(p.Caption, static.Caption),
			MediaRef: pick(p.Image, static.Image),
		},
		story.Beat{ID: BeatImpact, Kind: story.KindText, Content: pick(p.Impact, static.Impact)},
		story.Beat{ID: BeatConclusion, Kind: story.KindText, Content: conclusion},
	)
}

// ── Catalog ───────────────────────────────────────────────────────────────────

// Catalog is the immutable lookup of characters and their static scripts.
type Catalog struct {
	order   []string
	byID    map[string]Character
	scripts map[string]story.Script
}

// NewCatalog validates chars and builds a Catalog preserving their order.
func NewCatalog(chars []Character) (*Catalog, error) {
	if len(chars) == 0 {
		return nil, errors.New("character: catalog is empty")
	}
	c := &Catalog{
		byID:    make(map[string]Character, len(chars)),
		scripts: make(map[string]story.Script, len(chars)),
	}
	var errs []error
	for _, ch := range chars {
		if err := ch.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := c.byID[ch.ID]; dup {
			errs = append(errs, fmt.Errorf("character %q: duplicate id", ch.ID))
			continue
		}
		ch.FollowUps = append([]string(nil), ch.FollowUps...)
		c.order = append(c.order, ch.ID)
		c.byID[ch.ID] = ch
		c.scripts[ch.ID] = ch.Script(Parts{})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("character: %w", err)
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(defaultCharacters())
	if err != nil {
		panic(err)
	}
	return c
}

// Len returns the number of characters.
func (c *Catalog) Len() int { return len(c.order) }

// List returns all characters in table order.
func (c *Catalog) List() []Character {
	out := make([]Character, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id].clone())
	}
	return out
}

// Get returns the character with id.
func (c *Catalog) Get(id string) (Character, error) {
	ch, ok := c.byID[id]
	if !ok {
		return Character{}, fmt.Errorf("%w: %q", ErrUnknownCharacter, id)
	}
	return ch.clone(), nil
}

// Script returns the static script of character id.
func (c *Catalog) Script(id string) (story.Script, error) {
	s, ok := c.scripts[id]
	if !ok {
		return story.Script{}, fmt.Errorf("%w: %q", ErrUnknownCharacter, id)
	}
	return s, nil
}

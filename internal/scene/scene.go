// Package scene describes the 3D voice indicator shown during a conversation
// and which of its objects are visible in each presentation mode.
package scene

import "github.com/MrWong99/skystories/internal/conversation"

// Default scene values.
const (
	DefaultURL         = "https://prod.spline.design/G-g8uqpkvJU3Fb05/scene.splinecode"
	DefaultAgentObject = "Agent Siri"
	DefaultUserObject  = "User Siri"
)

// Descriptor names the scene asset and the two objects toggled by mode.
type Descriptor struct {
	URL         string `json:"url" yaml:"url"`
	AgentObject string `json:"agentObject" yaml:"agent_object"`
	UserObject  string `json:"userObject" yaml:"user_object"`
}

// Default returns the built-in scene.
func Default() Descriptor {
	return Descriptor{
		URL:         DefaultURL,
		AgentObject: DefaultAgentObject,
		UserObject:  DefaultUserObject,
	}
}

// WithDefaults fills empty fields of d from [Default].
func (d Descriptor) WithDefaults() Descriptor {
	def := Default()
	if d.URL == "" {
		d.URL = def.URL
	}
	if d.AgentObject == "" {
		d.AgentObject = def.AgentObject
	}
	if d.UserObject == "" {
		d.UserObject = def.UserObject
	}
	return d
}

// Visibility reports which scene objects are shown.
type Visibility struct {
	Agent bool `json:"agent"`
	User  bool `json:"user"`
}

// VisibilityFor returns the object visibility for mode. The agent object is
// shown while the agent speaks or thinks, the user object otherwise.
func VisibilityFor(mode conversation.Mode) Visibility {
	switch mode {
	case conversation.ModeSpeaking, conversation.ModeThinking:
		return Visibility{Agent: true}
	default:
		return Visibility{User: true}
	}
}

// Table returns the visibility of every mode, keyed by mode name.
func Table() map[conversation.Mode]Visibility {
	modes := []conversation.Mode{
		conversation.ModeIdle,
		conversation.ModeListening,
		conversation.ModeSpeaking,
		conversation.ModeThinking,
	}
	out := make(map[conversation.Mode]Visibility, len(modes))
	for _, m := range modes {
		out[m] = VisibilityFor(m)
	}
	return out
}

// Camera is a viewpoint preset for a viewport size.
type Camera struct {
	Distance float64 `json:"distance"`
	FOV      float64 `json:"fov"`
}

// CameraFor picks the camera preset for a viewport width in CSS pixels.
func CameraFor(width int) Camera {
	switch {
	case width < 768:
		return Camera{Distance: 8, FOV: 60}
	case width < 1024:
		return Camera{Distance: 6, FOV: 55}
	default:
		return Camera{Distance: 5, FOV: 50}
	}
}

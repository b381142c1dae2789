package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only LogLevel and FallbackOnly are applied without a restart; every other
// changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	FallbackOnlyChanged bool
	NewFallbackOnly     bool

	// RestartRequired names the top-level keys whose changes are ignored
	// until the server restarts.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.FallbackOnlyChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.AI.FallbackOnly != new.AI.FallbackOnly {
		d.FallbackOnlyChanged = true
		d.NewFallbackOnly = new.AI.FallbackOnly
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldAI, newAI := old.AI, new.AI
	oldAI.FallbackOnly, newAI.FallbackOnly = false, false

	sections := []struct {
		key      string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"conversation", old.Conversation, new.Conversation},
		{"story", old.Story, new.Story},
		{"ai", oldAI, newAI},
		{"starfield", old.Starfield, new.Starfield},
		{"scene", old.Scene, new.Scene},
		{"characters_file", old.CharactersFile, new.CharactersFile},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.key)
		}
	}
	return d
}

package config

// Changes describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; rate, size, and
// listener changes require a restart and are deliberately absent here.
type Changes struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// InstructionsChanged is set when peer.instructions changed. The new
	// value is pushed to active calls and applies from the agent's next turn.
	InstructionsChanged bool
	NewInstructions     string

	// VoiceChanged and ModelChanged apply to new calls only; an established
	// peer session keeps the voice and model it was opened with.
	VoiceChanged bool
	ModelChanged bool

	// MaxConcurrentChanged is set when sessions.max_concurrent changed.
	// Lowering the limit never hangs up established calls.
	MaxConcurrentChanged bool
	NewMaxConcurrent     int
}

// Any reports whether at least one tracked field changed.
func (c Changes) Any() bool {
	return c.LogLevelChanged || c.InstructionsChanged || c.VoiceChanged ||
		c.ModelChanged || c.MaxConcurrentChanged
}

// Diff compares two configs and returns what changed from prev to next.
// Only tracks changes that are safe to apply without restart.
func Diff(prev, next *Config) Changes {
	c := Changes{}

	if prev.Server.LogLevel != next.Server.LogLevel {
		c.LogLevelChanged = true
		c.NewLogLevel = next.Server.LogLevel
	}

	if prev.Peer.Instructions != next.Peer.Instructions {
		c.InstructionsChanged = true
		c.NewInstructions = next.Peer.Instructions
	}
	if prev.Peer.Voice != next.Peer.Voice {
		c.VoiceChanged = true
	}
	if prev.Peer.Model != next.Peer.Model {
		c.ModelChanged = true
	}

	if prev.Sessions.MaxConcurrent != next.Sessions.MaxConcurrent {
		c.MaxConcurrentChanged = true
		c.NewMaxConcurrent = next.Sessions.MaxConcurrent
	}

	return c
}

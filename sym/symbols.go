// Package sym defines the glyphs dialpulse attaches to log lines and CLI
// output so each subsystem is recognisable at a glance.
package sym

// Subsystem glyphs.
const (
	Pulse      = "꩜" // dispatch loops, rate budget
	PulseOpen  = "✿" // graceful startup, crash-recovery purge
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
	Calendar   = "✦" // recurrence and occurrence windows
	Control    = "⟶" // control signals and state transitions
	Dial       = "☏" // call placement and telephony
	Reaper     = "⌛" // ring-timeout reaper
)

// Labels maps each glyph to a short human label used by the CLI.
var Labels = map[string]string{
	Pulse:      "pulse",
	PulseOpen:  "startup",
	PulseClose: "shutdown",
	DB:         "db",
	Calendar:   "calendar",
	Control:    "control",
	Dial:       "dial",
	Reaper:     "reaper",
}

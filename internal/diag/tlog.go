package diag

import (
	"tlog.app/go/tlog"
)

// Span forwards messages to a tlog span. Each message carries the emitting
// component; warnings and errors are tagged with a severity key.
type Span struct {
	tlog.Span
}

// NewSpan wraps tr.
func NewSpan(tr tlog.Span) Span {
	return Span{Span: tr}
}

func (s Span) Info(msg, component string) {
	s.Printw(msg, "component", component)
}

func (s Span) Warn(msg, component string) {
	s.Printw(msg, "component", component, "severity", LevelWarn.String())
}

func (s Span) Error(msg, component string) {
	s.Printw(msg, "component", component, "severity", LevelError.String())
}

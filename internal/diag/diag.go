// Package diag defines the observation channel the analysis passes report
// through. Messages never affect control flow.
package diag

import (
	"fmt"
	"strings"
	"sync"
)

// Level is the severity of a message.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

var levelNames = [...]string{
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// Logger receives info, warning and error messages together with the
// component that produced them. Calls are made synchronously in pipeline
// order.
type Logger interface {
	Info(msg, component string)
	Warn(msg, component string)
	Error(msg, component string)
}

// Entry is a recorded message.
type Entry struct {
	Level     Level
	Component string
	Message   string
}

// String formats the entry as "component : message", with a level tag for
// warnings and errors.
func (e Entry) String() string {
	switch e.Level {
	case LevelWarn:
		return fmt.Sprintf("[Warn] %s : %s", e.Component, e.Message)
	case LevelError:
		return fmt.Sprintf("[Error] %s : %s", e.Component, e.Message)
	}
	return fmt.Sprintf("%s : %s", e.Component, e.Message)
}

// Recorder stores every message it receives. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *Recorder) Info(msg, component string)  { r.add(LevelInfo, msg, component) }
func (r *Recorder) Warn(msg, component string)  { r.add(LevelWarn, msg, component) }
func (r *Recorder) Error(msg, component string) { r.add(LevelError, msg, component) }

func (r *Recorder) add(l Level, msg, component string) {
	r.mu.Lock()
	r.entries = append(r.entries, Entry{Level: l, Component: component, Message: msg})
	r.mu.Unlock()
}

// Entries returns a copy of the recorded messages.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Count returns the number of messages at level l.
func (r *Recorder) Count(l Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Level == l {
			n++
		}
	}
	return n
}

// Contains reports whether a message at level l contains substr.
func (r *Recorder) Contains(l Level, substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.Level == l && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// Reset drops all recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

// Funcs adapts three callbacks to a Logger. Nil callbacks drop messages.
type Funcs struct {
	InfoFn  func(msg, component string)
	WarnFn  func(msg, component string)
	ErrorFn func(msg, component string)
}

func (f Funcs) Info(msg, component string) {
	if f.InfoFn != nil {
		f.InfoFn(msg, component)
	}
}

func (f Funcs) Warn(msg, component string) {
	if f.WarnFn != nil {
		f.WarnFn(msg, component)
	}
}

func (f Funcs) Error(msg, component string) {
	if f.ErrorFn != nil {
		f.ErrorFn(msg, component)
	}
}

// Discard is a Logger that drops every message.
var Discard Logger = Funcs{}

type tee []Logger

// Tee returns a Logger that forwards every message to each of ls in order.
func Tee(ls ...Logger) Logger {
	return tee(ls)
}

func (t tee) Info(msg, component string) {
	for _, l := range t {
		l.Info(msg, component)
	}
}

func (t tee) Warn(msg, component string) {
	for _, l := range t {
		l.Warn(msg, component)
	}
}

func (t tee) Error(msg, component string) {
	for _, l := range t {
		l.Error(msg, component)
	}
}

// Infof formats a message before sending it to l. Warnf and Errorf are the
// same for the other levels.
func Infof(l Logger, component, format string, args ...any) {
	l.Info(fmt.Sprintf(format, args...), component)
}

func Warnf(l Logger, component, format string, args ...any) {
	l.Warn(fmt.Sprintf(format, args...), component)
}

func Errorf(l Logger, component, format string, args ...any) {
	l.Error(fmt.Sprintf(format, args...), component)
}

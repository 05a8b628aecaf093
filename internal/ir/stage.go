package ir

import (
	"fmt"

	"tlog.app/go/loc"
)

// Stage is a point in the analysis pipeline.
type Stage int

const (
	StageRaw            Stage = iota // flat instruction list
	StageGraphBuilt                  // Graph set
	StageNormalized                  // unreachable blocks pruned
	StageStackAnalyzed               // stack shifts eliminated, slots promoted
	StageDominanceBuilt              // Dom set
	StageSSA                         // locals versioned, phis inserted
)

var stageNames = [...]string{
	StageRaw:            "raw",
	StageGraphBuilt:     "graph",
	StageNormalized:     "normalized",
	StageStackAnalyzed:  "stack-analyzed",
	StageDominanceBuilt: "dominance",
	StageSSA:            "ssa",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError is returned when an operation runs on a method that has not
// reached the stage it needs. It is fatal for the method.
type StageError struct {
	Method string
	Op     string
	Need   Stage
	Have   Stage
	PC     loc.PC // where the requirement was checked
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s: %s needs %s, method is at %s", e.Method, e.Op, e.Need, e.Have)
	if e.PC != 0 {
		msg += " (" + e.PC.String() + ")"
	}
	return msg
}

// Require returns a *StageError if m has not reached stage need. Graph and
// dominance requirements check the structures themselves, since graph
// changes drop dominance.
func (m *Method) Require(op string, need Stage) error {
	ok := m.Stage >= need
	switch need {
	case StageGraphBuilt, StageNormalized, StageStackAnalyzed:
		ok = ok && m.Graph != nil
	case StageDominanceBuilt, StageSSA:
		ok = ok && m.Graph != nil && m.Dom != nil
	}
	if ok {
		return nil
	}
	return &StageError{
		Method: m.Name,
		Op:     op,
		Need:   need,
		Have:   m.Stage,
		PC:     loc.Caller(1),
	}
}

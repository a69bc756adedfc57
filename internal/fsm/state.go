// Package fsm implements the application's eight-state machine: a guarded
// transition table plus the two-stage wake confirmer that drives Sleep
// through WakeConfirm and ModeSelect.
package fsm

// State is one of the eight application states.
type State int

const (
	Sleep State = iota
	WakeConfirm
	ModeSelect
	Capture
	Ocr
	Translate
	Render
	Idle
)

// String returns the lower-camel-free name used in logs and UI events.
func (s State) String() string {
	switch s {
	case Sleep:
		return "Sleep"
	case WakeConfirm:
		return "WakeConfirm"
	case ModeSelect:
		return "ModeSelect"
	case Capture:
		return "Capture"
	case Ocr:
		return "Ocr"
	case Translate:
		return "Translate"
	case Render:
		return "Render"
	case Idle:
		return "Idle"
	default:
		return "Unknown"
	}
}

// transitions encodes the allowed edges: every state may always fall back
// to Sleep, plus the forward edges listed below.
var transitions = map[State]map[State]bool{
	Sleep:       {WakeConfirm: true},
	WakeConfirm: {Sleep: true, ModeSelect: true},
	ModeSelect:  {Sleep: true, Capture: true, Ocr: true},
	Capture:     {Sleep: true, Ocr: true, Translate: true},
	Ocr:         {Sleep: true, Translate: true},
	Translate:   {Sleep: true, Render: true},
	Render:      {Sleep: true, Idle: true},
	Idle:        {Sleep: true},
}

// Allowed reports whether the table permits transitioning from 'from' to
// 'to'.
func Allowed(from, to State) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

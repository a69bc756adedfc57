package fsm_test

import (
	"testing"

	"ciallo/internal/fsm"
)

func TestAllowed_TableEdges(t *testing.T) {
	cases := []struct {
		from, to fsm.State
		want     bool
	}{
		{fsm.Sleep, fsm.WakeConfirm, true},
		{fsm.Sleep, fsm.ModeSelect, false},
		{fsm.WakeConfirm, fsm.ModeSelect, true},
		{fsm.WakeConfirm, fsm.Sleep, true},
		{fsm.ModeSelect, fsm.Capture, true},
		{fsm.ModeSelect, fsm.Ocr, true},
		{fsm.ModeSelect, fsm.Translate, false},
		{fsm.Capture, fsm.Translate, true},
		{fsm.Ocr, fsm.Translate, true},
		{fsm.Translate, fsm.Render, true},
		{fsm.Render, fsm.Idle, true},
		{fsm.Idle, fsm.Sleep, true},
		{fsm.Idle, fsm.WakeConfirm, false},
	}
	for _, tc := range cases {
		if got := fsm.Allowed(tc.from, tc.to); got != tc.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestAllowed_EverySleepSinkEdgeExists(t *testing.T) {
	for s := fsm.Sleep; s <= fsm.Idle; s++ {
		if s == fsm.Sleep {
			continue
		}
		if !fsm.Allowed(s, fsm.Sleep) {
			t.Errorf("every non-Sleep state must be able to reach Sleep, %s cannot", s)
		}
	}
}

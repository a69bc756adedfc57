package app

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
)

// Event is one UI event emitted by the core. In production the stream is
// forwarded to the WebView bridge; tests consume it directly.
type Event struct {
	Name    string
	Payload any
}

// Event names not already owned by a subsystem (the confirmer owns the
// wake-* names, the realtime session owns the realtime-* names).
const (
	EventForceCancel       = "force-cancel"
	EventCaptureComplete   = "capture-complete"
	EventCaptureError      = "capture-error"
	EventOCRStarted        = "ocr-started"
	EventOCRComplete       = "ocr-complete"
	EventOCRError          = "ocr-error"
	EventTranslateChunk    = "translate-chunk"
	EventTranslateComplete = "translate-complete"
	EventTranslateError    = "translate-error"
)

// eventBuffer bounds the UI event channel. The emitter never blocks: when
// the consumer falls this far behind, older semantics are already moot and
// the event is dropped with a log line.
const eventBuffer = 256

func (a *App) emit(name string, payload any) {
	select {
	case a.events <- Event{Name: name, Payload: payload}:
	default:
		slog.Warn("ui event dropped, consumer too slow", "event", name)
	}
}

// RequestIds identifies one wake (or realtime) cycle across scheduler
// messages, metric samples, and log lines.
type RequestIds struct {
	TraceID    string
	RequestID  string
	Generation uint64
}

// newTraceID returns a 16-byte random hex ID, used when no OTel span is
// active.
func newTraceID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b[:])
}

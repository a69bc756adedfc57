// Package ocrwire implements the length-prefixed MessagePack wire format
// used to talk to the external OCR worker process: a 4-byte big-endian
// payload length followed by a MessagePack-encoded [Frame], tagged by its
// Type field.
package ocrwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Type tags a Frame's payload shape, mirroring the worker's message kinds.
type Type string

// Frame type tags.
const (
	TypePing              Type = "ping"
	TypePong              Type = "pong"
	TypeOCR               Type = "ocr"
	TypeOCRResult         Type = "ocr_result"
	TypeRealtimeOCR       Type = "realtime_ocr"
	TypeRealtimeOCRResult Type = "realtime_ocr_result"
	TypeResetRealtime     Type = "reset_realtime"
	TypeShutdown          Type = "shutdown"
	TypeError             Type = "error"
)

// maxFrameBytes bounds a single payload to guard against a corrupt length
// prefix causing an unbounded allocation.
const maxFrameBytes = 64 << 20 // 64 MiB: generous for a full-screen PNG.

// ROIType discriminates the shape of an OCR region request.
type ROIType string

// ROI shapes.
const (
	ROIRect        ROIType = "rect"
	ROIPolygon     ROIType = "polygon"
	ROIPerspective ROIType = "perspective"
)

// Point is a single (x, y) pixel coordinate, used by polygon/perspective ROIs.
type Point struct {
	X int `msgpack:"x"`
	Y int `msgpack:"y"`
}

// ROI describes the region of interest to OCR: a rectangle, an arbitrary
// polygon, or a four-point perspective quad.
type ROI struct {
	Type ROIType `msgpack:"type"`

	// Rect fields (Type == ROIRect).
	X int `msgpack:"x,omitempty"`
	Y int `msgpack:"y,omitempty"`
	W int `msgpack:"w,omitempty"`
	H int `msgpack:"h,omitempty"`

	// Polygon/perspective fields.
	Points []Point `msgpack:"points,omitempty"`
}

// OCRRequest is the body of a TypeOCR frame.
type OCRRequest struct {
	ROI   ROI    `msgpack:"roi"`
	Image []byte `msgpack:"image"`
}

// Line is one recognised line of text with its vertical center, used by the
// realtime line-hash diff.
type Line struct {
	Text    string `msgpack:"text"`
	YCenter int    `msgpack:"y_center"`
}

// OCRResult is the body of a TypeOCRResult frame.
type OCRResult struct {
	Text      string `msgpack:"text"`
	Lines     []Line `msgpack:"lines"`
	ElapsedMs int64  `msgpack:"elapsed_ms"`
}

// RealtimeOCRRequest is the body of a TypeRealtimeOCR frame: a combined
// diff+OCR call that short-circuits when the region hasn't visibly changed.
type RealtimeOCRRequest struct {
	ROI   ROI    `msgpack:"roi"`
	Image []byte `msgpack:"image"`
}

// RealtimeOCRResult is the body of a TypeRealtimeOCRResult frame.
type RealtimeOCRResult struct {
	NoChange bool    `msgpack:"no_change"`
	Text     string  `msgpack:"text"`
	Lines    []Line  `msgpack:"lines"`
	MAE      float64 `msgpack:"mae"`
}

// ErrorBody is the body of a TypeError frame.
type ErrorBody struct {
	Message string `msgpack:"message"`
}

// Frame is one length-prefixed message exchanged with the OCR worker.
type Frame struct {
	Type Type               `msgpack:"type"`
	Body msgpack.RawMessage `msgpack:"body,omitempty"`
}

// NewFrame encodes body and tags the frame with typ.
func NewFrame(typ Type, body any) (Frame, error) {
	if body == nil {
		return Frame{Type: typ}, nil
	}
	raw, err := msgpack.Marshal(body)
	if err != nil {
		return Frame{}, fmt.Errorf("ocrwire: encode %s body: %w", typ, err)
	}
	return Frame{Type: typ, Body: raw}, nil
}

// DecodeBody unmarshals the frame's body into out.
func (f Frame) DecodeBody(out any) error {
	if len(f.Body) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(f.Body, out); err != nil {
		return fmt.Errorf("ocrwire: decode %s body: %w", f.Type, err)
	}
	return nil
}

// WriteFrame encodes f as MessagePack and writes it to w as a 4-byte
// big-endian length prefix followed by the payload.
func WriteFrame(w io.Writer, f Frame) error {
	payload, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("ocrwire: marshal frame: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("ocrwire: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ocrwire: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Frame{}, fmt.Errorf("ocrwire: read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameBytes {
		return Frame{}, fmt.Errorf("ocrwire: frame of %d bytes exceeds max %d", n, maxFrameBytes)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("ocrwire: read payload: %w", err)
	}

	var f Frame
	if err := msgpack.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("ocrwire: unmarshal frame: %w", err)
	}
	return f, nil
}

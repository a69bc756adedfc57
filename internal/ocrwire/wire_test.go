package ocrwire_test

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ciallo/internal/ocrwire"
)

func TestFrame_RoundTrip(t *testing.T) {
	frame, err := ocrwire.NewFrame(ocrwire.TypeOCR, ocrwire.OCRRequest{
		ROI:   ocrwire.ROI{Type: ocrwire.ROIRect, X: 100, Y: 200, W: 400, H: 60},
		Image: []byte{0x89, 0x50, 0x4e, 0x47},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ocrwire.WriteFrame(&buf, frame))

	// 4-byte big-endian length prefix, then the payload.
	prefix := binary.BigEndian.Uint32(buf.Bytes()[:4])
	assert.EqualValues(t, buf.Len()-4, prefix)

	got, err := ocrwire.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, ocrwire.TypeOCR, got.Type)

	var body ocrwire.OCRRequest
	require.NoError(t, got.DecodeBody(&body))
	assert.Equal(t, 400, body.ROI.W)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, body.Image)
}

func TestFrame_BodylessTypes(t *testing.T) {
	frame, err := ocrwire.NewFrame(ocrwire.TypePing, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ocrwire.WriteFrame(&buf, frame))

	got, err := ocrwire.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, ocrwire.TypePing, got.Type)
}

func TestFrame_PolygonROI(t *testing.T) {
	frame, err := ocrwire.NewFrame(ocrwire.TypeOCR, ocrwire.OCRRequest{
		ROI: ocrwire.ROI{
			Type:   ocrwire.ROIPolygon,
			Points: []ocrwire.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 5, Y: 8}},
		},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ocrwire.WriteFrame(&buf, frame))
	got, err := ocrwire.ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)

	var body ocrwire.OCRRequest
	require.NoError(t, got.DecodeBody(&body))
	require.Len(t, body.ROI.Points, 3)
	assert.Equal(t, 8, body.ROI.Points[2].Y)
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 1<<30)
	buf.Write(prefix[:])

	_, err := ocrwire.ReadFrame(bufio.NewReader(&buf))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds max")
}

func TestReadFrame_TruncatedPayloadFails(t *testing.T) {
	frame, err := ocrwire.NewFrame(ocrwire.TypePong, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ocrwire.WriteFrame(&buf, frame))
	truncated := buf.Bytes()[:buf.Len()-1]

	_, err = ocrwire.ReadFrame(bufio.NewReader(bytes.NewReader(truncated)))
	require.Error(t, err)
}

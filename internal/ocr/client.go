// Package ocr drives the external OCR worker process over its
// length-prefixed MessagePack IPC: one in-flight request at a time,
// per-call deadlines, and a restart hook for the health monitor. The worker
// process itself (image preprocessing, text recognition) lives outside this
// repository.
package ocr

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"ciallo/internal/ocrwire"
	"ciallo/internal/realtime"
)

// CallTimeout bounds one OCR round trip.
const CallTimeout = 1500 * time.Millisecond

// ErrRestarting is returned for requests that arrive while the worker is
// down: after a call timed out and dropped the stream, until the next
// Restart.
var ErrRestarting = errors.New("ocr: service restarting")

// Launcher spawns the worker process and hands back its IPC stream. The
// process body is an external collaborator; production launchers exec the
// bundled worker binary, tests return an in-memory pipe.
type Launcher interface {
	Start(ctx context.Context) (io.ReadWriteCloser, error)
}

// Client is the single-client-at-a-time worker connection. One mutex
// serialises request/response pairs; calls made while the stream is down
// fail fast with [ErrRestarting], and calls that arrive during Restart wait
// for it to finish.
type Client struct {
	launcher Launcher

	mu     sync.Mutex
	stream io.ReadWriteCloser
	reader *bufio.Reader
}

// NewClient launches the worker and returns a connected client.
func NewClient(ctx context.Context, launcher Launcher) (*Client, error) {
	c := &Client{launcher: launcher}
	if err := c.Restart(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Restart tears down the current stream (if any) and relaunches the worker.
// Implements the restart half of the health monitor's prober contract.
func (c *Client) Restart(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
		c.reader = nil
	}

	stream, err := c.launcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("ocr: launch worker: %w", err)
	}
	c.stream = stream
	c.reader = bufio.NewReader(stream)
	return nil
}

// Close sends a shutdown frame and closes the stream.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	frame, err := ocrwire.NewFrame(ocrwire.TypeShutdown, nil)
	if err == nil {
		_ = ocrwire.WriteFrame(c.stream, frame)
	}
	err = c.stream.Close()
	c.stream = nil
	c.reader = nil
	return err
}

// Ping implements the probe half of the health monitor's prober contract.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.roundTrip(ctx, ocrwire.TypePing, nil, 0)
	if err != nil {
		return err
	}
	if reply.Type != ocrwire.TypePong {
		return fmt.Errorf("ocr: expected pong, got %s", reply.Type)
	}
	return nil
}

// Recognize runs one OCR pass over the region of interest.
func (c *Client) Recognize(ctx context.Context, image []byte, roi ocrwire.ROI) (ocrwire.OCRResult, error) {
	reply, err := c.roundTrip(ctx, ocrwire.TypeOCR, ocrwire.OCRRequest{ROI: roi, Image: image}, CallTimeout)
	if err != nil {
		return ocrwire.OCRResult{}, err
	}
	if reply.Type != ocrwire.TypeOCRResult {
		return ocrwire.OCRResult{}, fmt.Errorf("ocr: expected ocr_result, got %s", reply.Type)
	}
	var result ocrwire.OCRResult
	if err := reply.DecodeBody(&result); err != nil {
		return ocrwire.OCRResult{}, err
	}
	return result, nil
}

// RealtimeRecognize runs the worker's combined diff+OCR pass.
func (c *Client) RealtimeRecognize(ctx context.Context, image []byte, roi ocrwire.ROI) (ocrwire.RealtimeOCRResult, error) {
	reply, err := c.roundTrip(ctx, ocrwire.TypeRealtimeOCR, ocrwire.RealtimeOCRRequest{ROI: roi, Image: image}, CallTimeout)
	if err != nil {
		return ocrwire.RealtimeOCRResult{}, err
	}
	if reply.Type != ocrwire.TypeRealtimeOCRResult {
		return ocrwire.RealtimeOCRResult{}, fmt.Errorf("ocr: expected realtime_ocr_result, got %s", reply.Type)
	}
	var result ocrwire.RealtimeOCRResult
	if err := reply.DecodeBody(&result); err != nil {
		return ocrwire.RealtimeOCRResult{}, err
	}
	return result, nil
}

// ResetRealtime clears the worker's previous-frame diff state.
func (c *Client) ResetRealtime(ctx context.Context) error {
	_, err := c.roundTrip(ctx, ocrwire.TypeResetRealtime, nil, 0)
	return err
}

// roundTrip sends one frame and reads one reply under the client mutex. A
// zero timeout means "use only ctx". An error frame from the worker is
// surfaced as a Go error.
func (c *Client) roundTrip(ctx context.Context, typ ocrwire.Type, body any, timeout time.Duration) (ocrwire.Frame, error) {
	if timeout > 0 {
		var cancelFn context.CancelFunc
		ctx, cancelFn = context.WithTimeout(ctx, timeout)
		defer cancelFn()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return ocrwire.Frame{}, ErrRestarting
	}

	frame, err := ocrwire.NewFrame(typ, body)
	if err != nil {
		return ocrwire.Frame{}, err
	}
	if err := ocrwire.WriteFrame(c.stream, frame); err != nil {
		return ocrwire.Frame{}, fmt.Errorf("ocr: send %s: %w", typ, err)
	}

	// The stream has no deadline support of its own, so the read happens on
	// a helper goroutine and the caller's deadline is enforced here. On
	// timeout the stream is closed to unblock the reader; the health loop
	// restarts the worker.
	type readResult struct {
		frame ocrwire.Frame
		err   error
	}
	ch := make(chan readResult, 1)
	reader := c.reader
	go func() {
		f, err := ocrwire.ReadFrame(reader)
		ch <- readResult{f, err}
	}()

	select {
	case <-ctx.Done():
		c.stream.Close()
		c.stream = nil
		c.reader = nil
		return ocrwire.Frame{}, fmt.Errorf("ocr: %s: %w", typ, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return ocrwire.Frame{}, fmt.Errorf("ocr: recv %s reply: %w", typ, res.err)
		}
		if res.frame.Type == ocrwire.TypeError {
			var errBody ocrwire.ErrorBody
			_ = res.frame.DecodeBody(&errBody)
			return ocrwire.Frame{}, fmt.Errorf("ocr: worker error: %s", errBody.Message)
		}
		return res.frame, nil
	}
}

// RealtimeWorker adapts a Client plus a fixed region of interest to the
// realtime session's worker contract.
type RealtimeWorker struct {
	Client *Client
	ROI    ocrwire.ROI
}

// RealtimeOCR implements realtime.Worker.
func (w RealtimeWorker) RealtimeOCR(ctx context.Context, image []byte, _ float64) (realtime.OCRResult, error) {
	res, err := w.Client.RealtimeRecognize(ctx, image, w.ROI)
	if err != nil {
		return realtime.OCRResult{}, err
	}
	out := realtime.OCRResult{NoChange: res.NoChange}
	for _, line := range res.Lines {
		out.Lines = append(out.Lines, realtime.Line{Text: line.Text, YCenter: line.YCenter})
	}
	return out, nil
}

// ResetRealtime implements realtime.Worker.
func (w RealtimeWorker) ResetRealtime(ctx context.Context) error {
	return w.Client.ResetRealtime(ctx)
}

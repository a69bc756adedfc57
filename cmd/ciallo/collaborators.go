package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"ciallo/internal/clipboard"
	"ciallo/internal/ocr"
	"ciallo/internal/ocrwire"
	"ciallo/internal/realtime"
)

// ── Audio source ─────────────────────────────────────────────────────────

// stdinSource reads signed 16-bit little-endian mono PCM at 16 kHz from
// stdin, so the process can be fed from any capture tool:
//
//	arecord -f S16_LE -r 16000 -c 1 -t raw | ciallo
type stdinSource struct{}

// readChunk is one device-callback's worth of samples (16 ms).
const readChunk = 256

func (stdinSource) ReadPCM(ctx context.Context) ([]int16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, readChunk*2)
	n, err := io.ReadFull(os.Stdin, buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("audio source: %w", err)
	}
	samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return samples, nil
}

// ── Selected-text capturer ───────────────────────────────────────────────

// clipboardCapturer reads the user's selection via the system clipboard,
// restoring the clipboard's prior content on every exit path. The shell is
// expected to have issued the copy-selection keystroke before the capture
// command lands here.
type clipboardCapturer struct {
	mgr *clipboard.Manager
}

func newClipboardCapturer() *clipboardCapturer {
	return &clipboardCapturer{mgr: clipboard.NewManager(clipboard.SystemBackend{})}
}

func (c *clipboardCapturer) CaptureSelection(ctx context.Context) (string, error) {
	guard, err := c.mgr.Acquire()
	if err != nil {
		return "", err
	}
	defer guard.Release()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return guard.ReadSelection()
}

// ── Screenshot backend ───────────────────────────────────────────────────

// execScreens shells out to a screenshot tool that writes one PNG to
// stdout.
type execScreens struct {
	command string
}

func (s execScreens) Capture(ctx context.Context) ([]byte, error) {
	parts := strings.Fields(s.command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("screenshot: %s: %w", parts[0], err)
	}
	return out.Bytes(), nil
}

// ── OCR worker process ───────────────────────────────────────────────────

// execLauncher spawns the OCR worker process and exposes its stdio as the
// IPC stream.
type execLauncher struct {
	command string
}

func (l execLauncher) Start(ctx context.Context) (io.ReadWriteCloser, error) {
	parts := strings.Fields(l.command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &processStream{in: stdin, out: stdout, cmd: cmd}, nil
}

// processStream bundles a child process's stdio into one ReadWriteCloser.
type processStream struct {
	in  io.WriteCloser
	out io.ReadCloser
	cmd *exec.Cmd
}

func (p *processStream) Read(b []byte) (int, error)  { return p.out.Read(b) }
func (p *processStream) Write(b []byte) (int, error) { return p.in.Write(b) }

func (p *processStream) Close() error {
	p.in.Close()
	p.out.Close()
	return p.cmd.Wait()
}

// ocrService adapts the worker client to the app's OCR contract.
type ocrService struct {
	client *ocr.Client
}

func (s ocrService) Recognize(ctx context.Context, image []byte, roi ocrwire.ROI) (ocrwire.OCRResult, error) {
	return s.client.Recognize(ctx, image, roi)
}

func (s ocrService) RealtimeWorker(roi ocrwire.ROI) realtime.Worker {
	return ocr.RealtimeWorker{Client: s.client, ROI: roi}
}

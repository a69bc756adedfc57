package ocr_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ciallo/internal/ocr"
	"ciallo/internal/ocrwire"
)

// fakeWorker runs a scripted worker process on the far end of a net.Pipe.
type fakeWorker struct {
	conn net.Conn
	// respond maps a request type to the reply sent back.
	respond func(req ocrwire.Frame) (ocrwire.Frame, bool)
}

func (w *fakeWorker) serve() {
	reader := bufio.NewReader(w.conn)
	for {
		req, err := ocrwire.ReadFrame(reader)
		if err != nil {
			return
		}
		if req.Type == ocrwire.TypeShutdown {
			return
		}
		reply, ok := w.respond(req)
		if !ok {
			continue // scripted silence, client should time out
		}
		if err := ocrwire.WriteFrame(w.conn, reply); err != nil {
			return
		}
	}
}

type pipeLauncher struct {
	serverSide func(net.Conn)
	launches   int
}

func (l *pipeLauncher) Start(context.Context) (io.ReadWriteCloser, error) {
	l.launches++
	client, server := net.Pipe()
	go l.serverSide(server)
	return client, nil
}

func echoWorker(respond func(req ocrwire.Frame) (ocrwire.Frame, bool)) func(net.Conn) {
	return func(conn net.Conn) {
		w := &fakeWorker{conn: conn, respond: respond}
		w.serve()
	}
}

func pongFrame(t *testing.T) ocrwire.Frame {
	t.Helper()
	f, err := ocrwire.NewFrame(ocrwire.TypePong, nil)
	require.NoError(t, err)
	return f
}

func TestClient_PingPong(t *testing.T) {
	launcher := &pipeLauncher{serverSide: echoWorker(func(req ocrwire.Frame) (ocrwire.Frame, bool) {
		if req.Type == ocrwire.TypePing {
			return pongFrame(t), true
		}
		return ocrwire.Frame{}, false
	})}

	client, err := ocr.NewClient(context.Background(), launcher)
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()))
}

func TestClient_RecognizeRoundTrip(t *testing.T) {
	launcher := &pipeLauncher{serverSide: echoWorker(func(req ocrwire.Frame) (ocrwire.Frame, bool) {
		if req.Type != ocrwire.TypeOCR {
			return ocrwire.Frame{}, false
		}
		var body ocrwire.OCRRequest
		if err := req.DecodeBody(&body); err != nil {
			return ocrwire.Frame{}, false
		}
		if body.ROI.Type != ocrwire.ROIRect || body.ROI.W != 400 {
			return ocrwire.Frame{}, false
		}
		reply, _ := ocrwire.NewFrame(ocrwire.TypeOCRResult, ocrwire.OCRResult{
			Text:      "Привет мир",
			Lines:     []ocrwire.Line{{Text: "Привет мир", YCenter: 30}},
			ElapsedMs: 180,
		})
		return reply, true
	})}

	client, err := ocr.NewClient(context.Background(), launcher)
	require.NoError(t, err)
	defer client.Close()

	result, err := client.Recognize(context.Background(), []byte{1, 2, 3},
		ocrwire.ROI{Type: ocrwire.ROIRect, X: 100, Y: 200, W: 400, H: 60})
	require.NoError(t, err)
	assert.Equal(t, "Привет мир", result.Text)
	assert.EqualValues(t, 180, result.ElapsedMs)
	require.Len(t, result.Lines, 1)
}

func TestClient_WorkerErrorFrameSurfacesAsError(t *testing.T) {
	launcher := &pipeLauncher{serverSide: echoWorker(func(req ocrwire.Frame) (ocrwire.Frame, bool) {
		reply, _ := ocrwire.NewFrame(ocrwire.TypeError, ocrwire.ErrorBody{Message: "model load failed"})
		return reply, true
	})}

	client, err := ocr.NewClient(context.Background(), launcher)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Recognize(context.Background(), nil, ocrwire.ROI{Type: ocrwire.ROIRect})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model load failed")
}

func TestClient_TimeoutFailsAndDropsStream(t *testing.T) {
	launcher := &pipeLauncher{serverSide: echoWorker(func(req ocrwire.Frame) (ocrwire.Frame, bool) {
		if req.Type == ocrwire.TypePing {
			return ocrwire.Frame{}, false // never answer
		}
		return pongFrame(t), true
	})}

	client, err := ocr.NewClient(context.Background(), launcher)
	require.NoError(t, err)

	ctx, cancelFn := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelFn()
	require.Error(t, client.Ping(ctx))

	// The dead stream is gone; the next call fails fast until a restart.
	assert.ErrorIs(t, client.Ping(context.Background()), ocr.ErrRestarting)

	require.NoError(t, client.Restart(context.Background()))
	assert.Equal(t, 2, launcher.launches)
}

func TestClient_RealtimeAdapterMapsLines(t *testing.T) {
	launcher := &pipeLauncher{serverSide: echoWorker(func(req ocrwire.Frame) (ocrwire.Frame, bool) {
		if req.Type == ocrwire.TypeResetRealtime {
			reply, _ := ocrwire.NewFrame(ocrwire.TypeResetRealtime, nil)
			return reply, true
		}
		reply, _ := ocrwire.NewFrame(ocrwire.TypeRealtimeOCRResult, ocrwire.RealtimeOCRResult{
			Lines: []ocrwire.Line{{Text: "a", YCenter: 8}, {Text: "b", YCenter: 24}},
		})
		return reply, true
	})}

	client, err := ocr.NewClient(context.Background(), launcher)
	require.NoError(t, err)
	defer client.Close()

	worker := ocr.RealtimeWorker{Client: client, ROI: ocrwire.ROI{Type: ocrwire.ROIRect, W: 100, H: 50}}
	result, err := worker.RealtimeOCR(context.Background(), []byte{1}, 5.0)
	require.NoError(t, err)
	assert.False(t, result.NoChange)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, "a", result.Lines[0].Text)
	assert.Equal(t, 24, result.Lines[1].YCenter)

	assert.NoError(t, worker.ResetRealtime(context.Background()))
}

package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	mu           sync.Mutex
	pingErr      error
	restartErr   error
	restartCalls int
}

func (f *fakeProber) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeProber) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartCalls++
	return f.restartErr
}

func (f *fakeProber) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeProber) restarts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restartCalls
}

func TestMonitor_HealthyOnSuccess(t *testing.T) {
	prober := &fakeProber{}
	m := NewMonitor(prober)

	m.probeOnce(context.Background())

	assert.True(t, m.Healthy())
	assert.Nil(t, m.LastError())
	assert.Equal(t, 0, prober.restarts())
}

func TestMonitor_RestartsAfterThreeConsecutiveFailures(t *testing.T) {
	prober := &fakeProber{}
	prober.setPingErr(errors.New("pong timeout"))
	m := NewMonitor(prober)

	m.probeOnce(context.Background())
	assert.True(t, m.Healthy(), "one failure should not trip a restart")
	m.probeOnce(context.Background())
	assert.True(t, m.Healthy(), "two failures should not trip a restart")
	m.probeOnce(context.Background())

	require.Equal(t, 1, prober.restarts(), "third consecutive failure must trigger exactly one restart")
}

func TestMonitor_SuccessResetsFailureStreak(t *testing.T) {
	prober := &fakeProber{}
	prober.setPingErr(errors.New("pong timeout"))
	m := NewMonitor(prober)

	m.probeOnce(context.Background())
	m.probeOnce(context.Background())

	prober.setPingErr(nil)
	m.probeOnce(context.Background())

	prober.setPingErr(errors.New("pong timeout"))
	m.probeOnce(context.Background())
	m.probeOnce(context.Background())

	assert.Equal(t, 0, prober.restarts(), "a success must reset the consecutive-failure streak")
}

func TestMonitor_RunStopsOnContextCancel(t *testing.T) {
	prober := &fakeProber{}
	m := NewMonitor(prober)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	<-done
}

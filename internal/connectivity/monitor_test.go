package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/eckposgo/internal/config"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls int32
}

func (p *fakeProber) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProber) Ping(ctx context.Context) error {
	atomic.AddInt32(&p.calls, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

var errDown = errors.New("connection refused")

func TestStartsOfflineUntilProbeSucceeds(t *testing.T) {
	p := &fakeProber{err: errDown}
	m := NewMonitor(p, config.ConnectivityConfig{})
	assert.True(t, m.IsOffline())

	st := m.Probe(context.Background())
	assert.True(t, st.Offline)
	assert.Equal(t, QualityOffline, st.Quality)
	assert.Equal(t, "connection refused", st.LastError)

	p.set(nil)
	st = m.Probe(context.Background())
	assert.False(t, st.Offline)
	assert.Equal(t, QualityGood, st.Quality)
}

func TestOnlineNotifiedOncePerTransition(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, config.ConnectivityConfig{})

	var online int32
	got := make(chan State, 10)
	m.OnOnline(func() { atomic.AddInt32(&online, 1) })
	m.Subscribe(func(s State) { got <- s })

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.Probe(ctx)
	}
	m.dispatchWG.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&online))
	require.Len(t, got, 1)
	assert.False(t, (<-got).Offline)

	p.set(errDown)
	m.Probe(ctx)
	p.set(nil)
	m.Probe(ctx)
	m.Probe(ctx)
	m.dispatchWG.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&online))
	assert.Len(t, m.History(), 3)
}

func TestDebounceRequiresStableOnline(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, config.ConnectivityConfig{Debounce: 40 * time.Millisecond})
	ctx := context.Background()

	assert.True(t, m.Probe(ctx).Offline, "first success only starts the debounce window")

	// Flap: the failure resets the window.
	p.set(errDown)
	m.Probe(ctx)
	p.set(nil)
	assert.True(t, m.Probe(ctx).Offline)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, m.Probe(ctx).Offline)
}

func TestSubscriberPanicIsContained(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, config.ConnectivityConfig{})

	done := make(chan struct{})
	m.Subscribe(func(State) { panic("boom") })
	m.Subscribe(func(State) { close(done) })

	m.Probe(context.Background())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second subscriber was not notified")
	}
	m.dispatchWG.Wait()
	assert.False(t, m.IsOffline())
}

func TestUnsubscribe(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, config.ConnectivityConfig{})

	var calls int32
	unsubscribe := m.Subscribe(func(State) { atomic.AddInt32(&calls, 1) })
	unsubscribe()

	m.Probe(context.Background())
	m.dispatchWG.Wait()
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestLoopProbesAndStops(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, config.ConnectivityConfig{ProbeInterval: 10 * time.Millisecond})

	online := make(chan struct{}, 1)
	m.OnOnline(func() { online <- struct{}{} })

	m.Start(context.Background())
	select {
	case <-online:
	case <-time.After(time.Second):
		t.Fatal("monitor never came online")
	}

	m.ReportNetworkHint(false)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&p.calls) >= 3 }, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()
}

func TestLoopConfirmsAfterDebounce(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, config.ConnectivityConfig{
		ProbeInterval: time.Hour,
		Debounce:      20 * time.Millisecond,
	})
	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return !m.IsOffline() }, time.Second, 5*time.Millisecond)
}

func TestSlowQuality(t *testing.T) {
	m := NewMonitor(&fakeProber{}, config.ConnectivityConfig{})
	st := m.observe(nil, 1500*time.Millisecond, time.Now())
	assert.Equal(t, QualitySlow, st.Quality)
	m.dispatchWG.Wait()
}

func TestHistoryIsBounded(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(p, config.ConnectivityConfig{})
	ctx := context.Background()
	for i := 0; i < 120; i++ {
		p.set(nil)
		m.Probe(ctx)
		p.set(errDown)
		m.Probe(ctx)
	}
	m.dispatchWG.Wait()
	assert.Len(t, m.History(), maxHistory)
}

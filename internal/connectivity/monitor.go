// Package connectivity tracks whether the server of record is reachable.
//
// The periodic probe is authoritative. Network hints from the host only
// trigger an early probe. Offline to online transitions are debounced so a
// flapping link produces one notification per real transition.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/xelth-com/eckposgo/internal/config"
)

// Quality describes the link to the server.
type Quality string

const (
	QualityGood    Quality = "good"
	QualitySlow    Quality = "slow"
	QualityOffline Quality = "offline"
)

// slowThreshold separates good from slow probe latency.
const slowThreshold = time.Second

const maxHistory = 100

// Prober performs one reachability check.
type Prober interface {
	Ping(ctx context.Context) error
}

// State is the current view of the link.
type State struct {
	Offline     bool          `json:"is_offline"`
	Quality     Quality       `json:"quality"`
	Latency     time.Duration `json:"latency"`
	LastChecked time.Time     `json:"last_checked"`
	LastError   string        `json:"last_error,omitempty"`
}

// Transition records a committed change of the offline flag.
type Transition struct {
	From      Quality   `json:"from"`
	To        Quality   `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Monitor owns the connectivity state and notifies subscribers of transitions.
type Monitor struct {
	mu sync.RWMutex

	prober Prober
	cfg    config.ConnectivityConfig

	state          State
	candidateSince time.Time
	history        []Transition

	subs   map[int]func(State)
	nextID int

	hintChan   chan struct{}
	stopChan   chan struct{}
	running    bool
	loopDone   sync.WaitGroup
	dispatchWG sync.WaitGroup
}

// NewMonitor creates a monitor that starts in the offline state until the
// first successful probe.
func NewMonitor(prober Prober, cfg config.ConnectivityConfig) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 15 * time.Second
	}
	return &Monitor{
		prober:   prober,
		cfg:      cfg,
		state:    State{Offline: true, Quality: QualityOffline},
		history:  make([]Transition, 0),
		subs:     make(map[int]func(State)),
		hintChan: make(chan struct{}, 1),
	}
}

// Start begins periodic probing. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.loopDone.Add(1)
	go m.loop(ctx, m.stopChan)
	log.Printf("📡 Connectivity monitor started (interval %s)", m.cfg.ProbeInterval)
}

// Stop ends probing and waits for pending notifications to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.loopDone.Wait()
	m.dispatchWG.Wait()
	log.Println("🛑 Connectivity monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, stop chan struct{}) {
	defer m.loopDone.Done()

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	var confirm <-chan time.Time
	step := func() {
		m.Probe(ctx)
		if m.awaitingConfirmation() {
			confirm = time.After(m.cfg.Debounce)
		} else {
			confirm = nil
		}
	}

	step()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			step()
		case <-m.hintChan:
			step()
		case <-confirm:
			step()
		}
	}
}

// Probe runs one reachability check and applies its outcome.
func (m *Monitor) Probe(ctx context.Context) State {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := m.prober.Ping(probeCtx)
	latency := time.Since(start)

	if err != nil && ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the link.
		return m.State()
	}
	return m.observe(err, latency, start)
}

func (m *Monitor) observe(err error, latency time.Duration, at time.Time) State {
	m.mu.Lock()

	m.state.LastChecked = at
	var notify bool

	if err != nil {
		m.candidateSince = time.Time{}
		m.state.LastError = err.Error()
		m.state.Latency = 0
		if !m.state.Offline {
			m.commit(true, QualityOffline, "probe_failed")
			notify = true
		}
	} else {
		m.state.LastError = ""
		m.state.Latency = latency
		quality := QualityGood
		if latency >= slowThreshold {
			quality = QualitySlow
		}

		if m.state.Offline {
			if m.candidateSince.IsZero() {
				m.candidateSince = at
			}
			if at.Sub(m.candidateSince) >= m.cfg.Debounce {
				m.candidateSince = time.Time{}
				m.commit(false, quality, "probe_succeeded")
				notify = true
			}
		} else {
			m.state.Quality = quality
		}
	}

	state := m.state
	var subs []func(State)
	if notify {
		subs = make([]func(State), 0, len(m.subs))
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range subs {
		m.dispatch(fn, state)
	}
	return state
}

// commit must be called with mu held.
func (m *Monitor) commit(offline bool, quality Quality, reason string) {
	from := m.state.Quality
	m.state.Offline = offline
	m.state.Quality = quality

	m.history = append(m.history, Transition{
		From:      from,
		To:        quality,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}

	if offline {
		log.Printf("📡 Server unreachable, switching to offline mode (%s)", m.state.LastError)
	} else {
		log.Printf("📡 Server reachable again (%s, %s)", quality, m.state.Latency.Round(time.Millisecond))
	}
}

func (m *Monitor) dispatch(fn func(State), state State) {
	m.dispatchWG.Add(1)
	go func() {
		defer m.dispatchWG.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("⚠️ Connectivity subscriber panicked: %v", r)
			}
		}()
		fn(state)
	}()
}

func (m *Monitor) awaitingConfirmation() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Offline && !m.candidateSince.IsZero()
}

// ReportNetworkHint tells the monitor the host saw a network change.
// The hint only schedules an early probe.
func (m *Monitor) ReportNetworkHint(online bool) {
	select {
	case m.hintChan <- struct{}{}:
		log.Printf("📡 Network hint (online=%v), probing", online)
	default:
	}
}

// Subscribe registers fn for committed transitions. The returned function
// removes the subscription.
func (m *Monitor) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// OnOnline registers fn for offline to online transitions only.
func (m *Monitor) OnOnline(fn func()) func() {
	return m.Subscribe(func(s State) {
		if !s.Offline {
			fn()
		}
	})
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsOffline reports the committed offline flag.
func (m *Monitor) IsOffline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Offline
}

// History returns the recorded transitions, oldest first.
func (m *Monitor) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

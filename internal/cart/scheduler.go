package cart

import (
	"sync"
	"time"
)

// SchedState is the state of the debounce scheduler.
type SchedState string

const (
	SchedIdle      SchedState = "idle"
	SchedScheduled SchedState = "scheduled"
	SchedRunning   SchedState = "running"
	SchedSucceeded SchedState = "succeeded"
	SchedFailed    SchedState = "failed"
)

// Scheduler debounces offer processing: Idle -> Scheduled -> Running ->
// Succeeded | Failed. Rescheduling stops the pending timer and starts a new
// one; only the latest schedule may record its outcome.
type Scheduler struct {
	mu       sync.Mutex
	state    SchedState
	timer    *time.Timer
	seq      uint64
	force    bool
	closed   bool
	delay    func() time.Duration
	fire     func(force bool) error
	onChange func(SchedState)
	wg       sync.WaitGroup
}

// NewScheduler creates an idle scheduler. delay is evaluated at every
// Schedule; fire runs on the timer goroutine.
func NewScheduler(delay func() time.Duration, fire func(force bool) error) *Scheduler {
	return &Scheduler{state: SchedIdle, delay: delay, fire: fire}
}

// OnStateChange registers the listener for state transitions.
func (s *Scheduler) OnStateChange(fn func(SchedState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Schedule (re)arms the timer with the dynamic delay.
func (s *Scheduler) Schedule() {
	s.ScheduleAfter(s.delay(), false)
}

// ScheduleAfter (re)arms the timer with d. A forced schedule stays forced
// when it is replaced before firing.
func (s *Scheduler) ScheduleAfter(d time.Duration, force bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.stopTimerLocked() {
		force = force || s.force
	}
	s.seq++
	seq := s.seq
	s.force = force
	s.wg.Add(1)
	s.timer = time.AfterFunc(d, func() { s.run(seq) })
	s.setLocked(SchedScheduled)
	s.mu.Unlock()
	s.emit(SchedScheduled)
}

// stopTimerLocked stops a pending timer and reports whether it was pending.
func (s *Scheduler) stopTimerLocked() bool {
	if s.timer == nil {
		return false
	}
	stopped := s.timer.Stop()
	s.timer = nil
	if stopped {
		s.wg.Done()
	}
	return stopped
}

func (s *Scheduler) run(seq uint64) {
	defer s.wg.Done()

	s.mu.Lock()
	if seq != s.seq || s.closed {
		s.mu.Unlock()
		return
	}
	force := s.force
	s.timer = nil
	s.force = false
	s.setLocked(SchedRunning)
	s.mu.Unlock()
	s.emit(SchedRunning)

	err := s.fire(force)

	next := SchedSucceeded
	if err != nil {
		next = SchedFailed
	}
	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.setLocked(next)
	s.mu.Unlock()
	s.emit(next)
}

func (s *Scheduler) setLocked(st SchedState) {
	s.state = st
}

func (s *Scheduler) emit(st SchedState) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Cancel drops a pending schedule. A running fire is not interrupted.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	if !s.stopTimerLocked() {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.force = false
	s.setLocked(SchedIdle)
	s.mu.Unlock()
	s.emit(SchedIdle)
}

// Flush fires a pending schedule right away.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.timer == nil || s.closed {
		s.mu.Unlock()
		return
	}
	force := s.force
	s.mu.Unlock()
	s.ScheduleAfter(0, force)
}

// State returns the current state.
func (s *Scheduler) State() SchedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close cancels the pending schedule and waits for a running fire.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopTimerLocked()
	s.seq++
	s.mu.Unlock()
	s.wg.Wait()
}

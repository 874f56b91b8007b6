package master

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	rttAlpha        = 0.125
	rttBeta         = 0.25
	windowThreshold = 256
	maxRunningTime  = time.Hour
)

// SlaveState adapts how many tasks a slave gets at once. The per-task round trip time is
// estimated like a TCP RTT; the window doubles while batches come back within the time
// limit, grows by one past the threshold and halves when a batch runs late.
type SlaveState struct {
	mu sync.Mutex

	window       int
	estimatedRTT float64 // ns per task
	devRTT       float64 // ns per task
	sampleRTT    float64

	lastTasks   int
	lastElapsed time.Duration

	timeouts int
}

func NewSlaveState() *SlaveState {
	return &SlaveState{window: 1}
}

func (s *SlaveState) Window() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Update records a batch of tasks that took elapsed from send to DONE.
func (s *SlaveState) Update(elapsed time.Duration, tasks int) {
	if tasks <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastTasks = tasks
	s.lastElapsed = elapsed

	if s.devRTT != 0 {
		switch {
		case float64(elapsed) >= s.timeLimit(s.window):
			s.halve()
		case s.window < windowThreshold:
			s.window *= 2
		default:
			s.window++
		}
	} else {
		s.window = 2
	}

	s.sampleRTT = float64(elapsed) / float64(tasks)
	s.estimatedRTT = rttAlpha*s.sampleRTT + (1-rttAlpha)*s.estimatedRTT
	if s.devRTT == 0 {
		s.devRTT = s.sampleRTT * 2
	} else {
		s.devRTT = rttBeta*math.Abs(s.sampleRTT-s.estimatedRTT) + (1-rttBeta)*s.devRTT
	}
}

// Expire halves the window after a timeout or a failed batch.
func (s *SlaveState) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts++
	s.halve()
}

func (s *SlaveState) halve() {
	if s.window > 1 {
		s.window /= 2
	}
}

// Timeout is how long to wait for a reply of the current window before the slave is
// considered late. Zero while nothing is known about the slave.
func (s *SlaveState) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.window == 1 || s.devRTT == 0 {
		return 0
	}
	t := float64(s.window)*s.estimatedRTT + float64(s.window)*4*s.devRTT
	if t > float64(maxRunningTime) {
		return maxRunningTime
	}
	return time.Duration(t)
}

func (s *SlaveState) timeLimit(tasks int) float64 {
	return float64(tasks)*s.estimatedRTT + float64(tasks)*s.devRTT
}

// TimeLimit is the expected duration of a batch of the current window.
func (s *SlaveState) TimeLimit() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.timeLimit(s.window))
}

// CanComplete reports whether tasks are expected to finish within an hour.
func (s *SlaveState) CanComplete(tasks int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeLimit(tasks) < float64(maxRunningTime)
}

func (s *SlaveState) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("tasks: %d runtime: %s estimatedRTT: %s devRTT: %s window: %d timeouts: %d",
		s.lastTasks, s.lastElapsed, time.Duration(s.estimatedRTT), time.Duration(s.devRTT), s.window, s.timeouts)
}

package audio

import (
	"sync"
	"time"
)

// Scheduler lays decoded buffers end to end on a device clock so that
// consecutive chunks play without gaps or overlap.
//
// Each buffer starts at max(now, cursor) and advances the cursor by its
// duration. When the cursor has fallen behind the clock (an underrun), the next
// buffer starts immediately instead of in the past.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	clock  Clock
	player Player

	mu     sync.Mutex
	cursor time.Duration
}

// NewScheduler returns a Scheduler that plays through player using clock as
// the time source. The cursor starts at zero.
func NewScheduler(clock Clock, player Player) *Scheduler {
	return &Scheduler{clock: clock, player: player}
}

// Enqueue schedules buf and returns the time it will start. Nil or empty
// buffers are ignored and return the current cursor.
func (s *Scheduler) Enqueue(buf *Buffer) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if buf == nil || len(buf.Samples) == 0 {
		return s.cursor
	}
	start := max(s.clock.Now(), s.cursor)
	s.player.PlayAt(buf, start)
	s.cursor = start + buf.Duration()
	return start
}

// Flush resets the cursor to the current clock time and, when the player
// supports it, drops everything queued or playing. Used on barge-in.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.player.(Stopper); ok {
		st.StopAll()
	}
	s.cursor = s.clock.Now()
}

// Cursor returns the time at which the next enqueued buffer would start if
// the clock had not advanced.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

package hub

import (
	"log/slog"
	"time"
)

// Reaper evicts sessions that never complete a login within the login
// deadline, and active sessions idle past the inactivity deadline. At most
// one timer is outstanding per session: every reschedule stops the current
// timer and bumps a generation counter under the session lock, so a timer
// that already fired but lost the race finds itself stale and backs off.
type Reaper struct {
	s             *Session
	loginDeadline time.Duration
	idleDeadline  time.Duration

	// gen and timer are guarded by the session's mutex.
	gen   uint64
	timer *time.Timer
}

func newReaper(s *Session, loginDeadline, idleDeadline time.Duration) *Reaper {
	return &Reaper{
		s:             s,
		loginDeadline: loginDeadline,
		idleDeadline:  idleDeadline,
	}
}

// scheduleLoginLocked arms the login deadline. Caller holds the session lock.
func (r *Reaper) scheduleLoginLocked() {
	r.scheduleLocked(r.loginDeadline)
}

// scheduleIdleLocked resets the inactivity deadline to its full duration.
// Caller holds the session lock.
func (r *Reaper) scheduleIdleLocked() {
	r.scheduleLocked(r.idleDeadline)
}

func (r *Reaper) scheduleLocked(d time.Duration) {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(d, func() { r.fire(gen) })
}

// stopLocked cancels any pending eviction. Caller holds the session lock.
func (r *Reaper) stopLocked() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
}

func (r *Reaper) fire(gen uint64) {
	s := r.s

	s.mu.Lock()
	if s.closed || gen != r.gen {
		// A reset or a concurrent close won the race.
		s.mu.Unlock()
		return
	}
	name, wasConnected := s.shutdownLocked()
	s.mu.Unlock()

	if wasConnected {
		slog.Info("session evicted for inactivity", "name", name)
	} else {
		slog.Info("session evicted before login")
	}
	s.hub.afterShutdown(s, name, wasConnected)
}

package router

import (
	"sync"
	"time"
)

// stickyLock pins a host's agent traffic to one account so a multi-step
// agent task is not rotated to a different credential mid-task. Rebuilt
// from scratch on restart; never persisted.
type stickyLock struct {
	accountID   string
	lastAgentAt time.Time
}

type stickyLocks struct {
	mu    sync.Mutex
	locks map[string]stickyLock
}

func newStickyLocks() *stickyLocks {
	return &stickyLocks{locks: map[string]stickyLock{}}
}

// candidate returns the pinned account id for the host when the lock should
// be honored: the call is agent-initiated, or an agent call happened within
// the idle window.
func (s *stickyLocks) candidate(host string, agent bool, now time.Time, idleWindow time.Duration) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[host]
	if !ok {
		return "", false
	}
	if agent || now.Sub(lock.lastAgentAt) <= idleWindow {
		return lock.accountID, true
	}
	return "", false
}

// record pins the account for the host. lastAgentAt only moves on
// agent-initiated calls; user calls inherit the previous stamp so the idle
// window keeps measuring agent activity.
func (s *stickyLocks) record(host, accountID string, agent bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := s.locks[host]
	lock.accountID = accountID
	if agent {
		lock.lastAgentAt = now
	}
	s.locks[host] = lock
}

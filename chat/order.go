package chat

import "sync"

// matchLocks serializes sends per match so publish order follows insert order.
type matchLocks struct {
	mu    sync.Mutex
	locks map[string]*matchLock
}

type matchLock struct {
	sync.Mutex
	waiters int
}

func (l *matchLocks) lock(matchID string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*matchLock)
	}
	ml, ok := l.locks[matchID]
	if !ok {
		ml = &matchLock{}
		l.locks[matchID] = ml
	}
	ml.waiters++
	l.mu.Unlock()

	ml.Lock()
	return func() {
		ml.Unlock()
		l.mu.Lock()
		ml.waiters--
		if ml.waiters == 0 {
			delete(l.locks, matchID)
		}
		l.mu.Unlock()
	}
}

package mountmgr

import "sync"

// pathLocks serializes operations per key (mount point path) while letting
// distinct keys proceed independently. Entries are kept for the process
// lifetime; the key space is the set of mount points an investigator
// touches in a session, which stays small.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its unlock func.
func (p *pathLocks) lock(key string) func() {
	p.mu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}

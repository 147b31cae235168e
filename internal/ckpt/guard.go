package ckpt

import "sync"

// Guard is the single-writer lock for a project's live state.
// Acquisition never waits: a held guard is reported to the caller at once.
type Guard struct {
	mu     sync.Mutex
	holder string
	hmu    sync.Mutex
}

// TryAcquire takes the guard for the named operation.
// It returns ErrRestoreInProgress if another operation holds it.
func (g *Guard) TryAcquire(operation string) (release func(), err error) {
	if !g.mu.TryLock() {
		return nil, ErrRestoreInProgress
	}
	g.hmu.Lock()
	g.holder = operation
	g.hmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.hmu.Lock()
			g.holder = ""
			g.hmu.Unlock()
			g.mu.Unlock()
		})
	}, nil
}

// Holder returns the operation currently holding the guard, or "".
func (g *Guard) Holder() string {
	g.hmu.Lock()
	defer g.hmu.Unlock()
	return g.holder
}

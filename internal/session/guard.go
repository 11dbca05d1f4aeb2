package session

import (
	"sync"
)

// convGuard serializes message processing per conversation in ticket
// order: callers reserve a slot first, and Lock admits tickets strictly
// in reservation order. Reserving is synchronous and cheap, so a read
// loop can take tickets in receipt order and hand the slow processing
// to goroutines without losing that order. Entries are reference
// counted so idle conversations do not leak state.
type convGuard struct {
	mu    sync.Mutex
	locks map[string]*guardEntry
}

type guardEntry struct {
	cond    *sync.Cond
	next    uint64 // next ticket to hand out
	serving uint64 // ticket currently admitted
	refs    int
}

func newConvGuard() *convGuard {
	return &convGuard{locks: make(map[string]*guardEntry)}
}

// Reserve takes the conversation's next processing slot. Every reserved
// ticket must be passed to Lock exactly once.
func (g *convGuard) Reserve(conversationID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.locks[conversationID]
	if !ok {
		e = &guardEntry{}
		e.cond = sync.NewCond(&g.mu)
		g.locks[conversationID] = e
	}
	e.refs++
	t := e.next
	e.next++
	return t
}

// Lock blocks until every earlier ticket for the conversation has been
// released, then enters the exclusive section.
func (g *convGuard) Lock(conversationID string, ticket uint64) {
	g.mu.Lock()
	e := g.locks[conversationID]
	for e.serving != ticket {
		e.cond.Wait()
	}
	g.mu.Unlock()
}

// Unlock releases the exclusive section, admits the next ticket and
// drops the entry when nothing else is queued.
func (g *convGuard) Unlock(conversationID string) {
	g.mu.Lock()
	e, ok := g.locks[conversationID]
	if ok {
		e.serving++
		e.refs--
		if e.refs == 0 {
			delete(g.locks, conversationID)
		} else {
			e.cond.Broadcast()
		}
	}
	g.mu.Unlock()
}

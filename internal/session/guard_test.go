package session

import (
	"sync"
	"testing"
)

func TestGuardSerializesSameConversation(t *testing.T) {
	g := newConvGuard()

	const n = 100
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket := g.Reserve("conv-1")
			g.Lock("conv-1", ticket)
			counter++
			g.Unlock("conv-1")
		}()
	}
	wg.Wait()

	if counter != n {
		t.Errorf("counter = %d, want %d", counter, n)
	}
}

func TestGuardAdmitsInReservationOrder(t *testing.T) {
	g := newConvGuard()

	// Reserve every slot up front, then contend for them in reverse
	// spawn order. Admission must still follow reservation order.
	const n = 50
	tickets := make([]uint64, n)
	for i := range tickets {
		tickets[i] = g.Reserve("conv-1")
	}

	var mu sync.Mutex
	var admitted []uint64
	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(ticket uint64) {
			defer wg.Done()
			g.Lock("conv-1", ticket)
			mu.Lock()
			admitted = append(admitted, ticket)
			mu.Unlock()
			g.Unlock("conv-1")
		}(tickets[i])
	}
	wg.Wait()

	for i, ticket := range admitted {
		if ticket != uint64(i) {
			t.Fatalf("admitted[%d] = %d, want %d", i, ticket, i)
		}
	}
}

func TestGuardIndependentConversations(t *testing.T) {
	g := newConvGuard()

	t1 := g.Reserve("conv-1")
	g.Lock("conv-1", t1)
	done := make(chan struct{})
	go func() {
		// A different conversation must not block.
		t2 := g.Reserve("conv-2")
		g.Lock("conv-2", t2)
		g.Unlock("conv-2")
		close(done)
	}()
	<-done
	g.Unlock("conv-1")
}

func TestGuardReleasesEntries(t *testing.T) {
	g := newConvGuard()

	ticket := g.Reserve("conv-1")
	g.Lock("conv-1", ticket)
	g.Unlock("conv-1")

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.locks) != 0 {
		t.Errorf("guard retained %d entries after release", len(g.locks))
	}
}

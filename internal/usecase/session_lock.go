package usecase

import (
	"context"
	"fmt"
	"sync"
)

// sessionGates serialises work on one session id at a time. Each id gets a
// one-slot channel; the table entry lives only while someone holds or is
// queued on it.
type sessionGates struct {
	mu    sync.Mutex
	gates map[string]*gate
}

type gate struct {
	slot  chan struct{}
	users int
}

func newSessionGates() *sessionGates {
	return &sessionGates{gates: make(map[string]*gate)}
}

// Acquire takes the gate for id, waiting until it is free or ctx ends.
// The returned release is idempotent.
func (g *sessionGates) Acquire(ctx context.Context, id string) (release func(), err error) {
	gt := g.join(id)

	select {
	case gt.slot <- struct{}{}:
	case <-ctx.Done():
		g.leave(id, gt)
		return nil, fmt.Errorf("session %q busy: %w", id, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-gt.slot
			g.leave(id, gt)
		})
	}, nil
}

func (g *sessionGates) join(id string) *gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	gt, ok := g.gates[id]
	if !ok {
		gt = &gate{slot: make(chan struct{}, 1)}
		g.gates[id] = gt
	}
	gt.users++
	return gt
}

func (g *sessionGates) leave(id string, gt *gate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gt.users--
	if gt.users == 0 {
		delete(g.gates, id)
	}
}

// Tracked returns how many session ids currently have a holder or waiter.
func (g *sessionGates) Tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.gates)
}

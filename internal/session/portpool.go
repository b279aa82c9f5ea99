package session

import (
	"sync"

	"github.com/conduit-run/conduitd/internal/conduiterr"
)

// portPool is the closed integer interval [start, end] of bridge ports.
// Allocate returns the lowest unused port; exhaustion is a typed conflict
// error.
type portPool struct {
	mu    sync.Mutex
	start int
	end   int
	used  map[int]bool
}

func newPortPool(start, end int) *portPool {
	return &portPool{start: start, end: end, used: make(map[int]bool)}
}

func (p *portPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for port := p.start; port <= p.end; port++ {
		if !p.used[port] {
			p.used[port] = true
			return port, nil
		}
	}
	return 0, conduiterr.NewConflictError("bridge port pool exhausted", nil)
}

func (p *portPool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, port)
}

func (p *portPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}

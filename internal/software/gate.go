package software

import "sync"

// Gate holds command buffer execution until permits are released.
// Each submitted command buffer consumes one permit before it runs.
// The zero value is not usable; create gates with NewGate.
type Gate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	permits int
	open    bool
	held    int
}

// NewGate returns a closed gate with no permits.
func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Release lets n more command buffers execute.
func (g *Gate) Release(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	g.permits += n
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Open lets all current and future command buffers execute.
func (g *Gate) Open() {
	g.mu.Lock()
	g.open = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Held returns the number of command buffers currently waiting for a
// permit. At most one is ever held because the queue is serial.
func (g *Gate) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

func (g *Gate) wait() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held++
	for !g.open && g.permits == 0 {
		g.cond.Wait()
	}
	g.held--
	if !g.open {
		g.permits--
	}
}

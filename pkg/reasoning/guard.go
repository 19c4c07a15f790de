package reasoning

import (
	"sort"
	"sync"
)

// Guard tracks requesters with a run in flight. At most one run per requester is
// admitted at a time.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{active: map[string]struct{}{}}
}

// TryAdmit claims requesterID. It returns false without changing state when the
// requester is already active.
func (g *Guard) TryAdmit(requesterID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		g.active = map[string]struct{}{}
	}
	if _, ok := g.active[requesterID]; ok {
		return false
	}
	g.active[requesterID] = struct{}{}
	return true
}

// Release frees requesterID. Releasing an inactive requester is a no-op.
func (g *Guard) Release(requesterID string) {
	g.mu.Lock()
	delete(g.active, requesterID)
	g.mu.Unlock()
}

func (g *Guard) IsActive(requesterID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[requesterID]
	return ok
}

// Active returns the sorted list of requesters currently holding a run.
func (g *Guard) Active() []string {
	g.mu.Lock()
	out := make([]string, 0, len(g.active))
	for id := range g.active {
		out = append(out, id)
	}
	g.mu.Unlock()
	sort.Strings(out)
	return out
}

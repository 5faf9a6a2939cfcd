package keeper

import (
	"sort"
	"sync"
)

// Registry is the set of live bot processes, at most one per bot id.
type Registry interface {
	Get(botID string) (*BotProcess, bool)
	// Add registers p unless its id is already present.
	Add(p *BotProcess) bool
	// Remove deletes the entry only if it still is p, so a stale exit
	// handler cannot drop a newer process with the same id.
	Remove(botID string, p *BotProcess) bool
	List() []*BotProcess
	Len() int
}

// MemoryRegistry is the default Registry.
type MemoryRegistry struct {
	mu        sync.RWMutex
	instances map[string]*BotProcess
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{instances: make(map[string]*BotProcess)}
}

func (r *MemoryRegistry) Get(botID string) (*BotProcess, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.instances[botID]
	return p, ok
}

func (r *MemoryRegistry) Add(p *BotProcess) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[p.ID]; exists {
		return false
	}
	r.instances[p.ID] = p
	return true
}

func (r *MemoryRegistry) Remove(botID string, p *BotProcess) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.instances[botID]; ok && cur == p {
		delete(r.instances, botID)
		return true
	}
	return false
}

// List returns the live processes ordered by bot id.
func (r *MemoryRegistry) List() []*BotProcess {
	r.mu.RLock()
	list := make([]*BotProcess, 0, len(r.instances))
	for _, p := range r.instances {
		list = append(list, p)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

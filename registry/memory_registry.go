package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry keeps instances in process. TTLs are ignored. It backs tests
// and single-host setups without etcd.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]Instance
	watchers map[string][]chan []Instance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]Instance),
		watchers: make(map[string][]chan []Instance),
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, name string, instance Instance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.services[name] == nil {
		m.services[name] = make(map[string]Instance)
	}
	m.services[name][instance.ID] = instance
	m.notify(name)
	return nil
}

func (m *MemoryRegistry) Deregister(ctx context.Context, name string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services[name], id)
	m.notify(name)
	return nil
}

// Discover returns the instances sorted by ID.
func (m *MemoryRegistry) Discover(ctx context.Context, name string) ([]Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(name), nil
}

func (m *MemoryRegistry) Watch(ctx context.Context, name string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	m.mu.Lock()
	m.watchers[name] = append(m.watchers[name], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		watchers := m.watchers[name]
		for i, w := range watchers {
			if w == ch {
				m.watchers[name] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (m *MemoryRegistry) Close() error {
	return nil
}

func (m *MemoryRegistry) list(name string) []Instance {
	instances := make([]Instance, 0, len(m.services[name]))
	for _, inst := range m.services[name] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ID < instances[j].ID
	})
	return instances
}

// notify hands every watcher the latest list, replacing one it has not read yet.
// Callers hold m.mu.
func (m *MemoryRegistry) notify(name string) {
	instances := m.list(name)
	for _, w := range m.watchers[name] {
		select {
		case <-w:
		default:
		}
		w <- instances
	}
}

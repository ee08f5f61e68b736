package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"zss/registry"
)

// ConsistentHashBalancer maps keys to instances on a hash ring, so a key keeps
// hitting the same instance while the instance set is stable.
//
// Each instance owns replicas virtual nodes, hashed from "{id}#{i}":
//
//	         0
//	       ╱   ╲
//	B ●               ● A
//	  │    key ◆──►   │   (clockwise to nearest node → A)
//	C ●               ● A'
//	       ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu        sync.Mutex
	signature string // instance IDs the ring was built from
	ring      []uint32
	nodes     map[uint32]registry.Instance
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]registry.Instance),
	}
}

// Pick rebuilds the ring when the instance set changed, then walks clockwise
// from the key's hash to the first node.
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuild(instances)

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) rebuild(instances []registry.Instance) {
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID + "@" + inst.Endpoint
	}
	sort.Strings(ids)
	signature := strings.Join(ids, ",")
	if signature == b.signature {
		return
	}

	b.signature = signature
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]registry.Instance, len(instances)*b.replicas)
	for _, inst := range instances {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.ID, i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = inst
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

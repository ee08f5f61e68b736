// Package loadbalance picks one instance among those a registry returned.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity brokers
//   - WeightedRandom:  brokers of different capacity
//   - ConsistentHash:  the same key (a client's SID) sticks to the same broker
package loadbalance

import (
	"errors"

	"zss/registry"
)

// ErrNoInstances is returned when there is nothing to pick from.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects an instance for key. Implementations must be goroutine-safe.
type Balancer interface {
	Pick(key string, instances []registry.Instance) (*registry.Instance, error)
	Name() string
}

// New returns the balancer called name, RoundRobin when name is unknown.
func New(name string) Balancer {
	switch name {
	case "WeightedRandom", "weighted":
		return &WeightedRandomBalancer{}
	case "ConsistentHash", "hash":
		return NewConsistentHashBalancer()
	default:
		return &RoundRobinBalancer{}
	}
}

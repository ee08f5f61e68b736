package loadbalance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zss/registry"
)

var testInstances = []registry.Instance{
	{ID: "broker-1", Endpoint: "tcp://10.0.0.1:5560", Weight: 10},
	{ID: "broker-2", Endpoint: "tcp://10.0.0.2:5560", Weight: 5},
	{ID: "broker-3", Endpoint: "tcp://10.0.0.3:5560", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	var picked []string
	for i := 0; i < 4; i++ {
		inst, err := b.Pick("PING", testInstances)
		require.NoError(t, err)
		picked = append(picked, inst.ID)
	}
	assert.Equal(t, []string{"broker-1", "broker-2", "broker-3", "broker-1"}, picked)
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		_, err := b.Pick("PING", nil)
		assert.ErrorIs(t, err, ErrNoInstances, b.Name())
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("PING", testInstances)
		require.NoError(t, err)
		counts[inst.ID]++
	}

	// Weights are 10:5:10, so broker-1 should be picked about twice as often as broker-2.
	ratio := float64(counts["broker-1"]) / float64(counts["broker-2"])
	assert.InDelta(t, 2.0, ratio, 0.5)
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick("PING", []registry.Instance{{ID: "only"}})
	require.NoError(t, err)
	assert.Equal(t, "only", inst.ID)
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	inst1, err := b.Pick("user-123", testInstances)
	require.NoError(t, err)
	inst2, err := b.Pick("user-123", testInstances)
	require.NoError(t, err)
	assert.Equal(t, inst1.ID, inst2.ID)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("key-%d", i), testInstances)
		seen[inst.ID] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2)
}

func TestConsistentHashRebuildsOnChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	_, err := b.Pick("PING", testInstances)
	require.NoError(t, err)

	only := []registry.Instance{testInstances[1]}
	inst, err := b.Pick("PING", only)
	require.NoError(t, err)
	assert.Equal(t, "broker-2", inst.ID)
}

func TestNew(t *testing.T) {
	assert.Equal(t, "RoundRobin", New("").Name())
	assert.Equal(t, "WeightedRandom", New("weighted").Name())
	assert.Equal(t, "ConsistentHash", New("ConsistentHash").Name())
}

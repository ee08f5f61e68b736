// Package registry records where ZSS brokers and services can be found.
//
// Brokers publish their frontend/backend endpoints under a well-known name so
// clients and services can discover them; services publish their presence
// under their SID. Entries carry a TTL so a crashed process disappears on its
// own.
package registry

import "context"

// Instance is one registered process.
type Instance struct {
	ID       string            `json:"id"`       // unique within the name, e.g. a socket identity
	Endpoint string            `json:"endpoint"` // ZeroMQ endpoint, e.g. tcp://10.0.0.5:5560
	Weight   int               `json:"weight"`   // for load balancing
	Version  string            `json:"version"`
	Meta     map[string]string `json:"meta,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, name string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, name string, id string) error
	Discover(ctx context.Context, name string) ([]Instance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, name string) <-chan []Instance
	Close() error
}

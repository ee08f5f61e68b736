package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyPrefix roots every key written by EtcdRegistry:
//
//	/zss/{name}/{id} → JSON-encoded Instance
const KeyPrefix = "/zss/"

// EtcdRegistry implements Registry on etcd v3 with TTL leases.
type EtcdRegistry struct {
	client *clientv3.Client
	logger logrus.FieldLogger

	ctx    context.Context // parent of every KeepAlive, cancelled by Close
	cancel context.CancelFunc

	mu     sync.Mutex
	leases map[string]lease // by key
}

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger logrus.FieldLogger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client: c,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		leases: make(map[string]lease),
	}, nil
}

func key(name, id string) string {
	return KeyPrefix + name + "/" + id
}

func prefix(name string) string {
	return KeyPrefix + name + "/"
}

// Register stores instance under a lease of ttl seconds and keeps the lease
// alive until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, name string, instance Instance, ttl int64) error {
	granted, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := sonic.Marshal(instance)
	if err != nil {
		return fmt.Errorf("registry: encode instance: %w", err)
	}

	k := key(name, instance.ID)
	if _, err := r.client.Put(ctx, k, string(val), clientv3.WithLease(granted.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", k, err)
	}

	kaCtx, kaCancel := context.WithCancel(r.ctx)
	ch, err := r.client.KeepAlive(kaCtx, granted.ID)
	if err != nil {
		kaCancel()
		return fmt.Errorf("registry: keepalive: %w", err)
	}

	r.mu.Lock()
	if old, ok := r.leases[k]; ok {
		old.cancel()
	}
	r.leases[k] = lease{id: granted.ID, cancel: kaCancel}
	r.mu.Unlock()

	// Drain responses so the channel never fills up.
	go func() {
		for range ch {
		}
		r.logger.WithField("key", k).Debug("lease keepalive stopped")
	}()
	return nil
}

// Deregister removes the instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, name string, id string) error {
	k := key(name, id)

	r.mu.Lock()
	l, ok := r.leases[k]
	delete(r.leases, k)
	r.mu.Unlock()

	if ok {
		l.cancel()
		if _, err := r.client.Revoke(ctx, l.id); err == nil {
			return nil
		}
	}
	if _, err := r.client.Delete(ctx, k); err != nil {
		return fmt.Errorf("registry: delete %s: %w", k, err)
	}
	return nil
}

// Discover returns every live instance registered under name.
func (r *EtcdRegistry) Discover(ctx context.Context, name string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, prefix(name), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: get %s: %w", prefix(name), err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := sonic.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.WithField("key", string(kv.Key)).WithError(err).Warn("skipping malformed instance")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch re-reads the instance list on every change under name.
func (r *EtcdRegistry) Watch(ctx context.Context, name string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, prefix(name), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, name)
			if err != nil {
				r.logger.WithError(err).Warn("rediscovery after watch event failed")
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops every keepalive and closes the etcd client. Leases then expire
// after their TTL.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}

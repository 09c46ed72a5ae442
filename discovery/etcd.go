// Package discovery is optional etcd-backed service discovery: the directory
// and monitor announce their control endpoints under a lease, and nodes or
// clients can resolve them instead of being handed an address.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const prefix = "/zephyrcdn"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// Announce publishes addr under /zephyrcdn/<role>/<id> with a TTL lease and
// keeps the lease alive until the returned cancel func is called. If the
// process dies the lease expires and the entry vanishes on its own.
func Announce(cli *clientv3.Client, role, id, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(context.TODO(), ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s", prefix, role, id)
	if _, err := cli.Put(context.TODO(), key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("put %s: %w", key, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
			// drain keepalive acks
		}
	}()

	return lease.ID, cancel, nil
}

// Resolve returns id -> addr for every announced instance of role.
func Resolve(cli *clientv3.Client, role string) (map[string]string, error) {
	keyPrefix := fmt.Sprintf("%s/%s/", prefix, role)
	resp, err := cli.Get(context.TODO(), keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", keyPrefix, err)
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), keyPrefix)
		out[id] = string(kv.Value)
	}
	return out, nil
}

// ResolveOne picks any single instance of role, for callers that just need
// an address.
func ResolveOne(cli *clientv3.Client, role string) (string, error) {
	all, err := Resolve(cli, role)
	if err != nil {
		return "", err
	}
	for _, addr := range all {
		return addr, nil
	}
	return "", fmt.Errorf("no %s announced", role)
}

// Package discovery registers nodes in etcd under a lease and watches the
// registered set so the QUIC address book follows nodes joining and leaving.
package discovery

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

func NewClient(endpoints []string, dialTimeout time.Duration, log *zap.Logger) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      log,
	})
}

type Registry struct {
	cli    *clientv3.Client
	prefix string
	log    *zap.Logger
}

// New returns a registry keeping nodes under prefix, e.g. "/zephyrdtn/nodes/".
func New(cli *clientv3.Client, prefix string, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Registry{cli: cli, prefix: prefix, log: log}
}

// RegisterNode stores id -> addr under a lease of ttl seconds and keeps the
// lease alive until the returned cancel is called, which also revokes it.
func (r *Registry) RegisterNode(ctx context.Context, id, addr string, ttl int64) (clientv3.LeaseID, func(), error) {
	lease, err := r.cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("discovery: grant lease: %w", err)
	}
	if _, err := r.cli.Put(ctx, Key(r.prefix, id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("discovery: register %s: %w", id, err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := r.cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("discovery: keepalive: %w", err)
	}
	go func() {
		// the channel must be drained or the client logs a full queue
		for range ch {
		}
		r.log.Debug("lease keepalive stopped", zap.Int64("lease", int64(lease.ID)))
	}()

	stop := func() {
		cancel()
		rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer rcancel()
		if _, err := r.cli.Revoke(rctx, lease.ID); err != nil {
			r.log.Warn("revoke lease", zap.Error(err))
		}
	}
	r.log.Info("node registered", zap.String("id", id), zap.String("addr", addr), zap.Int64("ttl", ttl))
	return lease.ID, stop, nil
}

// ListPeers returns every registered node and the revision it was read at.
func (r *Registry) ListPeers(ctx context.Context) (map[string]string, int64, error) {
	resp, err := r.cli.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, fmt.Errorf("discovery: list peers: %w", err)
	}
	peers := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if id, ok := IDFromKey(r.prefix, string(kv.Key)); ok {
			peers[id] = string(kv.Value)
		}
	}
	return peers, resp.Header.Revision, nil
}

// WatchPeers calls fn with the full peer set, first as listed and then after
// every change, until ctx ends.
func (r *Registry) WatchPeers(ctx context.Context, fn func(peers map[string]string)) error {
	peers, rev, err := r.ListPeers(ctx)
	if err != nil {
		return err
	}
	fn(maps.Clone(peers))

	wch := r.cli.Watch(ctx, r.prefix, clientv3.WithPrefix(), clientv3.WithRev(rev+1))
	for wresp := range wch {
		if err := wresp.Err(); err != nil {
			return fmt.Errorf("discovery: watch: %w", err)
		}
		if applyEvents(peers, r.prefix, wresp.Events) {
			fn(maps.Clone(peers))
		}
	}
	return ctx.Err()
}

// applyEvents folds watch events into peers and reports whether it changed.
func applyEvents(peers map[string]string, prefix string, events []*clientv3.Event) bool {
	changed := false
	for _, ev := range events {
		if ev.Kv == nil {
			continue
		}
		id, ok := IDFromKey(prefix, string(ev.Kv.Key))
		if !ok {
			continue
		}
		switch ev.Type {
		case mvccpb.PUT:
			if peers[id] != string(ev.Kv.Value) {
				peers[id] = string(ev.Kv.Value)
				changed = true
			}
		case mvccpb.DELETE:
			if _, ok := peers[id]; ok {
				delete(peers, id)
				changed = true
			}
		}
	}
	return changed
}

func Key(prefix, id string) string {
	return prefix + id
}

// IDFromKey strips prefix from key; keys outside prefix or with nested
// paths are not node entries.
func IDFromKey(prefix, key string) (string, bool) {
	id, ok := strings.CutPrefix(key, prefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

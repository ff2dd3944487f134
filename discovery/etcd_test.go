package discovery

import (
	"testing"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const prefix = "/zephyrdtn/nodes/"

func event(typ mvccpb.Event_EventType, key, value string) *clientv3.Event {
	return &clientv3.Event{Type: typ, Kv: &mvccpb.KeyValue{Key: []byte(key), Value: []byte(value)}}
}

func TestIDFromKey(t *testing.T) {
	cases := []struct {
		key  string
		id   string
		isID bool
	}{
		{prefix + "n1", "n1", true},
		{prefix, "", false},
		{prefix + "n1/extra", "", false},
		{"/other/n1", "", false},
	}
	for _, c := range cases {
		id, ok := IDFromKey(prefix, c.key)
		if id != c.id || ok != c.isID {
			t.Fatalf("IDFromKey(%q) = %q, %v", c.key, id, ok)
		}
	}
	if got := Key(prefix, "n2"); got != prefix+"n2" {
		t.Fatalf("Key = %q", got)
	}
}

func TestApplyEvents(t *testing.T) {
	peers := map[string]string{"n1": "10.0.0.1:4269"}

	if !applyEvents(peers, prefix, []*clientv3.Event{event(mvccpb.PUT, prefix+"n2", "10.0.0.2:4269")}) {
		t.Fatalf("join not reported")
	}
	if applyEvents(peers, prefix, []*clientv3.Event{event(mvccpb.PUT, prefix+"n2", "10.0.0.2:4269")}) {
		t.Fatalf("unchanged put reported as change")
	}
	if !applyEvents(peers, prefix, []*clientv3.Event{event(mvccpb.DELETE, prefix+"n1", "")}) {
		t.Fatalf("leave not reported")
	}
	if applyEvents(peers, prefix, []*clientv3.Event{event(mvccpb.PUT, "/elsewhere/x", "y")}) {
		t.Fatalf("foreign key reported")
	}
	if len(peers) != 1 || peers["n2"] != "10.0.0.2:4269" {
		t.Fatalf("peers = %v", peers)
	}
}

func TestNewNormalizesPrefix(t *testing.T) {
	r := New(nil, "/zephyrdtn/nodes", nil)
	if r.prefix != prefix {
		t.Fatalf("prefix = %q", r.prefix)
	}
}

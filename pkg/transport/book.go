package transport

import (
	"net"
	"sort"
	"strings"
	"sync"
)

// Book maps node ids to dialable host:port addresses.
type Book struct {
	mu    sync.RWMutex
	addrs map[string]string
}

func NewBook() *Book {
	return &Book{addrs: make(map[string]string)}
}

func (b *Book) Set(id, hostport string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addrs[id] = hostport
}

func (b *Book) Delete(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.addrs, id)
}

// Replace swaps the whole book for peers, normalizing every address.
func (b *Book) Replace(peers map[string]string, defPort string) {
	next := make(map[string]string, len(peers))
	for id, addr := range peers {
		next[id] = NormalizeHostPort(addr, defPort)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addrs = next
}

func (b *Book) Lookup(id string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.addrs[id]
	return a, ok
}

// IDs returns the known node ids, sorted.
func (b *Book) IDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.addrs))
	for id := range b.addrs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NormalizeHostPort strips an http:// or https:// prefix and adds defPort
// when the address has no port.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "http://"); ok {
		addr = rest
	} else if rest, ok := strings.CutPrefix(addr, "https://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return addr + ":" + defPort
}

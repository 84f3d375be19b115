package mcpconn

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// tokenRegistry is an ephemeral token->value map shared by the correlation
// registries. Tokens generated by NextToken are unique for the lifetime of the
// registry instance; no global uniqueness is promised or needed.
type tokenRegistry[V any] struct {
	prefix  string
	counter atomic.Uint64

	mu      sync.Mutex
	entries map[string]V
}

func newTokenRegistry[V any](prefix string) *tokenRegistry[V] {
	return &tokenRegistry[V]{
		prefix:  prefix,
		entries: make(map[string]V),
	}
}

// NextToken returns a token that has never been handed out by this instance.
func (r *tokenRegistry[V]) NextToken() string {
	return fmt.Sprintf("%s/%d", r.prefix, r.counter.Add(1))
}

func (r *tokenRegistry[V]) Put(token string, value V) {
	r.mu.Lock()
	r.entries[token] = value
	r.mu.Unlock()
}

func (r *tokenRegistry[V]) Get(token string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[token]
	return v, ok
}

// Take removes and returns the entry for token. The removal is atomic: of two
// racing Take calls for the same token, exactly one observes ok=true.
func (r *tokenRegistry[V]) Take(token string) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[token]
	if ok {
		delete(r.entries, token)
	}
	return v, ok
}

func (r *tokenRegistry[V]) Delete(token string) {
	r.mu.Lock()
	delete(r.entries, token)
	r.mu.Unlock()
}

// Drain removes every entry and returns the removed values.
func (r *tokenRegistry[V]) Drain() []V {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := make([]V, 0, len(r.entries))
	for _, v := range r.entries {
		values = append(values, v)
	}
	r.entries = make(map[string]V)
	return values
}

func (r *tokenRegistry[V]) Clear() {
	r.mu.Lock()
	r.entries = make(map[string]V)
	r.mu.Unlock()
}

func (r *tokenRegistry[V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

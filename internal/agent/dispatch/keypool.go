package dispatch

import (
	"context"
	"strings"
	"sync"
)

// KeyPool is a rotating set of API credentials shared across conversations.
// Rotation is safe for concurrent use.
type KeyPool struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewKeyPool drops blank keys and duplicates.
func NewKeyPool(keys ...string) *KeyPool {
	seen := make(map[string]struct{}, len(keys))
	p := &KeyPool{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		p.keys = append(p.keys, k)
	}
	return p
}

func (p *KeyPool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Current returns the key in use.
func (p *KeyPool) Current() (string, bool) {
	if p == nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", false
	}
	return p.keys[p.idx], true
}

// Rotate moves past failed if it is still the current key and returns the
// key now in use. Concurrent callers reporting the same key rotate once.
func (p *KeyPool) Rotate(failed string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return ""
	}
	if p.keys[p.idx] == failed {
		p.idx = (p.idx + 1) % len(p.keys)
	}
	return p.keys[p.idx]
}

type credentialKey struct{}

// WithCredential attaches the key a tool should authenticate with.
func WithCredential(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, credentialKey{}, key)
}

// CredentialFromContext returns the key attached by the dispatcher.
func CredentialFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(credentialKey{}).(string)
	return v, ok && v != ""
}

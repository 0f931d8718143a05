package transport

import (
	"context"
	"sync"

	"github.com/MrEthical07/pinflow/token"
)

// Credentials is the owned holder of the current token pair. It caches the pair in memory and
// writes through to the token store.
type Credentials struct {
	store *token.Store

	mu     sync.RWMutex
	pair   token.Pair
	loaded bool
}

// NewCredentials creates a holder backed by store.
func NewCredentials(store *token.Store) *Credentials {
	return &Credentials{store: store}
}

// Current returns the cached pair, loading it from the store on first use.
func (c *Credentials) Current(ctx context.Context) (token.Pair, error) {
	c.mu.RLock()
	if c.loaded {
		p := c.pair
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.pair, nil
	}
	p, err := c.store.Load(ctx)
	if err != nil {
		return token.Pair{}, err
	}
	c.pair = p
	c.loaded = true
	return p, nil
}

// Update replaces the pair. The in-memory copy is updated even when persisting fails.
func (c *Credentials) Update(ctx context.Context, p token.Pair) error {
	c.mu.Lock()
	c.pair = p
	c.loaded = true
	c.mu.Unlock()
	return c.store.Save(ctx, p)
}

// Clear drops the pair from memory and storage.
func (c *Credentials) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.pair = token.Pair{}
	c.loaded = true
	c.mu.Unlock()
	return c.store.Clear(ctx)
}

// Reload forces the next Current to read from storage.
func (c *Credentials) Reload() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

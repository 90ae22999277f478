// Package ident produces short, collision-free identifiers without any
// coordination between writers. Multiple workers on multiple machines can
// create tasks concurrently, before ever synchronizing, without colliding
// in practice.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultHexLength is the number of hex characters in a fresh id suffix,
	// roughly 16M combinations per kind.
	DefaultHexLength = 6

	// DefaultGrowThreshold is the number of known ids per kind past which new
	// ids gain one extra hex character to keep collision probability low.
	DefaultGrowThreshold = 10000
)

// Generator issues ids of the form "<kind>-<hex>". Each id is a prefix of the
// sha256 digest of the current time, a process-local random seed, and a
// monotonic counter. The generator tracks every id it has seen in this
// process and re-hashes on collision: collisions are negligible but handled,
// not assumed away.
type Generator struct {
	mu            sync.Mutex
	seed          string
	counter       uint64
	known         map[string]map[string]struct{} // kind -> set of known ids
	hexLength     int
	growThreshold int
}

// Option configures a Generator.
type Option func(*Generator)

// WithHexLength overrides the default id suffix length.
func WithHexLength(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.hexLength = n
		}
	}
}

// WithGrowThreshold overrides the per-kind id count at which the suffix
// grows by one character.
func WithGrowThreshold(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.growThreshold = n
		}
	}
}

// New creates a Generator with a fresh process-local random seed.
func New(opts ...Option) *Generator {
	g := &Generator{
		seed:          uuid.NewString(),
		known:         make(map[string]map[string]struct{}),
		hexLength:     DefaultHexLength,
		growThreshold: DefaultGrowThreshold,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a new unique id for the given kind.
func (g *Generator) Generate(kind string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids, ok := g.known[kind]
	if !ok {
		ids = make(map[string]struct{})
		g.known[kind] = ids
	}

	length := g.hexLength
	if len(ids) >= g.growThreshold {
		length++
	}

	for {
		g.counter++
		sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%d", kind, g.seed, time.Now().UnixNano(), g.counter))
		id := fmt.Sprintf("%s-%s", kind, hex.EncodeToString(sum[:])[:length])
		if _, taken := ids[id]; taken {
			continue
		}
		ids[id] = struct{}{}
		return id
	}
}

// Register records an externally created id (e.g. one imported from the
// durable log) so Generate never re-issues it and the grow threshold
// reflects the true corpus size.
func (g *Generator) Register(kind, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids, ok := g.known[kind]
	if !ok {
		ids = make(map[string]struct{})
		g.known[kind] = ids
	}
	ids[id] = struct{}{}
}

// Known returns the number of ids the generator has seen for a kind.
func (g *Generator) Known(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.known[kind])
}

// ChildID returns the hierarchical id "<parent>.<index>" for a sub-task.
// No collision check is needed: uniqueness follows from index monotonicity
// under a given parent.
func ChildID(parent string, index int) string {
	return fmt.Sprintf("%s.%d", parent, index)
}

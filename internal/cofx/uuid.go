package cofx

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string ids.
// Implemented by UUIDv7Generator, SeqGenerator and FixedGenerator.
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids sort by
// creation time. Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for testing.
// Safe for concurrent use.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("id-1", "id-2")
//	gen.Generate() // "id-1"
//	gen.Generate() // "id-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics once every id has been used, to catch test misconfiguration early.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// SeqGenerator returns Prefix-1, Prefix-2, ... and never runs out. Used
// where ids must be reproducible across runs, such as scenario sessions.
// Safe for concurrent use.
type SeqGenerator struct {
	Prefix string
	n      atomic.Int64
}

// Generate returns the next id.
func (g *SeqGenerator) Generate() string {
	return fmt.Sprintf("%s-%d", g.Prefix, g.n.Add(1))
}

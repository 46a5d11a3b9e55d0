// Package generator synthesizes batches of line-protocol records.
package generator

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/szibis/influx-loadgen/internal/lineproto"
)

// estimatedLineSize is the rough serialized size of one record, used to
// preallocate batch buffers.
const estimatedLineSize = 110

// Generator produces batch payloads on a bounded CPU pool. Generating
// thousands of random formatted records is CPU-heavy; the pool caps
// concurrent generation at GOMAXPROCS so it cannot starve the I/O-bound
// send workers, which may outnumber the CPUs.
type Generator struct {
	slots *semaphore.Weighted
}

// New returns a Generator whose CPU pool is sized to GOMAXPROCS.
func New() *Generator {
	return &Generator{
		slots: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
}

// Generate waits for a CPU slot and produces one payload of exactly lines
// newline-terminated records. Each call uses its own randomness source, so
// concurrent batches never contend on generator state. Returns the context
// error if cancelled while waiting for a slot.
func (g *Generator) Generate(ctx context.Context, lines int) ([]byte, error) {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire generation slot: %w", err)
	}
	defer g.slots.Release(1)

	rng := rand.New(rand.NewSource(rand.Int63()))
	buf := bytes.NewBuffer(make([]byte, 0, lines*estimatedLineSize))
	for i := 0; i < lines; i++ {
		if err := lineproto.WritePoint(buf, rng); err != nil {
			return nil, fmt.Errorf("generate line: %w", err)
		}
	}
	return buf.Bytes(), nil
}

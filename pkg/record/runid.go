package record

import (
	"strconv"
	"sync"
	"time"
)

// RunIDGenerator hands out run identifiers derived from the creation time
// in Unix milliseconds. IDs from one generator are strictly increasing even
// when the clock does not advance between calls.
type RunIDGenerator struct {
	mu    sync.Mutex
	clock func() time.Time
	last  int64
}

// NewRunIDGenerator creates a generator. A nil clock defaults to time.Now.
func NewRunIDGenerator(clock func() time.Time) *RunIDGenerator {
	if clock == nil {
		clock = time.Now
	}

	return &RunIDGenerator{clock: clock}
}

// Next returns a new run ID together with the instant it encodes.
func (g *RunIDGenerator) Next() (string, time.Time) {
	return g.NextAt(g.clock())
}

// NextAt is Next for a caller supplied instant. Monotonicity holds across
// Next and NextAt calls on the same generator.
func (g *RunIDGenerator) NextAt(now time.Time) (string, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}

	g.last = ms

	return strconv.FormatInt(ms, 10), time.UnixMilli(ms).UTC()
}

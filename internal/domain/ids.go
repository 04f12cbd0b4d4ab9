package domain

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDGenerator hands out order and trade identifiers.
type IDGenerator interface {
	NewID() string
}

// RandomIDs generates random v4 UUIDs.
type RandomIDs struct{}

func (RandomIDs) NewID() string {
	return uuid.NewString()
}

// SeededIDs generates v4 UUIDs from a ChaCha8 stream so that two runs with
// the same seed produce the same identifiers.
type SeededIDs struct {
	mu  sync.Mutex
	src *rand.ChaCha8
}

// NewSeededIDs creates a deterministic generator for seed.
func NewSeededIDs(seed uint64) *SeededIDs {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], seed)
	copy(key[8:], "marketsim-ids-chacha8-v1")
	return &SeededIDs{src: rand.NewChaCha8(key)}
}

func (g *SeededIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		// ChaCha8.Read never fails.
		panic(err)
	}
	return id.String()
}

// Clock supplies timestamps for orders, trades and history entries.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// RoundClock is a logical clock. Each round starts at start + round × step
// and every call to Now advances by one microsecond within the round.
type RoundClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	round int
	tick  int64
}

// NewRoundClock creates a logical clock starting at start.
func NewRoundClock(start time.Time, step time.Duration) *RoundClock {
	return &RoundClock{start: start, step: step}
}

// SetRound moves the clock to the beginning of round.
func (c *RoundClock) SetRound(round int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.round = round
	c.tick = 0
}

func (c *RoundClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	return c.start.Add(time.Duration(c.round)*c.step + time.Duration(c.tick)*time.Microsecond)
}

package idgen

import (
	"sync"
	"time"

	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/clock"
)

// 2024-01-01T00:00:00Z in milliseconds.
const snowflakeEpoch int64 = 1704067200000

// 41 bits timestamp | 10 bits node | 12 bits sequence.
const (
	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = (1 << nodeBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	nodeShift      = sequenceBits
	timestampShift = nodeBits + sequenceBits
)

// exhaustedWaits bounds how long Generate waits for the next millisecond.
const exhaustedWaits = 50

// Snowflake generates time-ordered ids that are unique per node.
type Snowflake struct {
	mu       sync.Mutex
	clock    clock.Clock
	nodeID   int64
	sequence int64
	lastTime int64
}

func NewSnowflake(nodeID int64, clk clock.Clock) (*Snowflake, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, ErrInvalidNodeID
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Snowflake{clock: clk, nodeID: nodeID}, nil
}

func (g *Snowflake) Generate() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UnixMilli()

	switch {
	case now < g.lastTime:
		return 0, ErrClockMovedBackwards
	case now == g.lastTime:
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// sequence exhausted for this millisecond
			for i := 0; now <= g.lastTime; i++ {
				if i == exhaustedWaits {
					g.sequence = maxSequence
					return 0, ErrSequenceExhausted
				}
				time.Sleep(100 * time.Microsecond)
				now = g.clock.Now().UnixMilli()
			}
		}
	default:
		g.sequence = 0
	}
	g.lastTime = now

	return ((now - snowflakeEpoch) << timestampShift) | (g.nodeID << nodeShift) | g.sequence, nil
}

func (g *Snowflake) NodeID() int64 {
	return g.nodeID
}

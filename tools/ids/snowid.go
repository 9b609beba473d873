package ids

import (
	"strconv"
	"sync"
	"time"
)

// Generator hands out snowflake-style int64 ids: 41 bits of milliseconds
// since epoch, 10 bits of node, 12 bits of sequence. Ids from one node are
// strictly increasing, which is what makes them usable as the ordering
// tie-break inside a single timestamp.
type Generator struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
}

func NewGenerator(nodeID int64) *Generator {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	return &Generator{
		epochMS: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		nodeID:  nodeID,
	}
}

func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := time.Now().UnixMilli()
		if now < g.lastTSMS {
			// Clock went backwards, wait it out.
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & 0xFFF
			if g.seq == 0 {
				// Sequence exhausted inside this millisecond.
				for now <= g.lastTSMS {
					now = time.Now().UnixMilli()
				}
				g.lastTSMS = now
			}
		} else {
			g.seq = 0
			g.lastTSMS = now
		}
		return ((g.lastTSMS - g.epochMS) << 22) | (g.nodeID << 12) | g.seq
	}
}

func (g *Generator) NextString() string {
	return strconv.FormatInt(g.Next(), 10)
}

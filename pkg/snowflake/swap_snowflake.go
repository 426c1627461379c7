// Package snowflake generates time-sortable 64-bit IDs without
// coordination: 41 bits of milliseconds since the service epoch,
// 10 bits of worker ID and a 12-bit per-millisecond sequence.
package snowflake

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

const (
	// Service epoch: 2025-01-01 00:00:00 UTC. IDs sort after every
	// row imported from the legacy scheduler.
	epoch int64 = 1735689600000

	timestampBits = 41
	workerIDBits  = 10
	sequenceBits  = 12

	maxWorkerID = (1 << workerIDBits) - 1 // 1023
	maxSequence = (1 << sequenceBits) - 1 // 4095

	timestampShift = workerIDBits + sequenceBits // 22
	workerIDShift  = sequenceBits                // 12
)

var (
	ErrInvalidWorkerID = errors.New("worker ID must be between 0 and 1023")
	ErrClockMovedBack  = errors.New("clock moved backwards")
)

// Generator generates unique Snowflake IDs.
type Generator struct {
	mu       sync.Mutex
	workerID int64
	sequence int64
	lastTime int64
}

// NewGenerator creates a generator for workerID in [0, 1023].
func NewGenerator(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, ErrInvalidWorkerID
	}

	return &Generator{workerID: workerID}, nil
}

// Generate returns a new unique ID.
func (g *Generator) Generate() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := currentTimeMillis()

	if now < g.lastTime {
		return 0, ErrClockMovedBack
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// sequence exhausted for this millisecond
			now = waitNextMillis(g.lastTime)
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	id := ((now - epoch) << timestampShift) |
		(g.workerID << workerIDShift) |
		g.sequence

	return id, nil
}

// MustGenerate generates a new ID and panics on error.
func (g *Generator) MustGenerate() int64 {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}

// Parse extracts the components of an ID.
func Parse(id int64) (timestamp time.Time, workerID int64, sequence int64) {
	ts := (id >> timestampShift) + epoch
	timestamp = time.UnixMilli(ts)
	workerID = (id >> workerIDShift) & maxWorkerID
	sequence = id & maxSequence
	return
}

// Timestamp extracts the creation time of an ID.
func Timestamp(id int64) time.Time {
	ts := (id >> timestampShift) + epoch
	return time.UnixMilli(ts)
}

func currentTimeMillis() int64 {
	return time.Now().UnixMilli()
}

func waitNextMillis(lastTime int64) int64 {
	now := currentTimeMillis()
	for now <= lastTime {
		time.Sleep(100 * time.Microsecond)
		now = currentTimeMillis()
	}
	return now
}

var (
	globalGen  *Generator
	globalOnce sync.Once
	globalErr  error
)

// Init initializes the global generator. Call once at startup.
func Init(workerID int64) error {
	globalOnce.Do(func() {
		globalGen, globalErr = NewGenerator(workerID)
	})
	return globalErr
}

// InitFromName initializes the global generator with a worker ID hashed
// from an instance name (hostname-pid and the like), so deployments do
// not have to hand out numeric IDs.
func InitFromName(name string) error {
	h := fnv.New32a()
	h.Write([]byte(name))
	return Init(int64(h.Sum32()) & maxWorkerID)
}

// ID generates a new ID using the global generator.
// Init must be called before using this function.
func ID() int64 {
	if globalGen == nil {
		panic("snowflake: global generator not initialized, call Init() first")
	}
	return globalGen.MustGenerate()
}

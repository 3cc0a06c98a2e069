package dataType

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type timeSegment struct {
	timestamp int64
	count     int64
}

// senderWindow is a ring of one-second segments for a single sender.
type senderWindow struct {
	segments    []timeSegment
	segSize     int64
	lastUpdated int64
}

func newSenderWindow(segments int64) *senderWindow {
	return &senderWindow{
		segments: make([]timeSegment, segments),
		segSize:  segments,
	}
}

func (w *senderWindow) add(ts int64, value int64) {
	idx := ts % w.segSize
	if w.segments[idx].timestamp != ts {
		w.segments[idx].timestamp = ts
		w.segments[idx].count = value
	} else {
		w.segments[idx].count += value
	}
	w.lastUpdated = ts
}

func (w *senderWindow) sum(lastN int64, now int64) int64 {
	if lastN > w.segSize {
		lastN = w.segSize
	}
	var total int64
	for i := int64(0); i < lastN; i++ {
		sec := now - lastN + 1 + i
		idx := sec % w.segSize
		if w.segments[idx].timestamp == sec {
			total += w.segments[idx].count
		}
	}
	return total
}

type counterShard struct {
	mu      sync.Mutex
	windows map[uint64]*senderWindow
}

// FrameCounter counts inbound frames per sender over a sliding window of seconds.
type FrameCounter struct {
	shards     []*counterShard
	shardCount uint64
	window     int64
	now        func() time.Time
}

func NewFrameCounter(shardCount int, windowSeconds int64) *FrameCounter {
	if shardCount <= 0 {
		shardCount = 1
	}
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	fc := &FrameCounter{
		shards:     make([]*counterShard, shardCount),
		shardCount: uint64(shardCount),
		window:     windowSeconds,
		now:        time.Now,
	}
	for i := range fc.shards {
		fc.shards[i] = &counterShard{windows: make(map[uint64]*senderWindow)}
	}
	return fc
}

// Add records value frames for sender and returns the total within the window.
func (fc *FrameCounter) Add(sender string, value int64) int64 {
	now := fc.now().Unix()
	key := xxhash.Sum64String(sender)
	shard := fc.shards[key%fc.shardCount]

	shard.mu.Lock()
	defer shard.mu.Unlock()
	w, ok := shard.windows[key]
	if !ok {
		w = newSenderWindow(fc.window)
		shard.windows[key] = w
	}
	w.add(now, value)
	return w.sum(fc.window, now)
}

// GC drops senders idle for longer than the window.
func (fc *FrameCounter) GC() {
	expire := fc.now().Unix() - fc.window
	for _, shard := range fc.shards {
		shard.mu.Lock()
		for key, w := range shard.windows {
			if w.lastUpdated < expire {
				delete(shard.windows, key)
			}
		}
		shard.mu.Unlock()
	}
}

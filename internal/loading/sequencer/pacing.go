package sequencer

import (
	"encoding/json"
	"time"

	"github.com/vietddude/biomes-client/internal/loading/progress"
)

// pacer picks the poll interval. Once the scene starts rendering it stays
// fast for the rest of the attempt so frame warm-up shows smoothly.
type pacer struct {
	base time.Duration
	fast time.Duration
	warm bool
}

func newPacer(cfg Config) *pacer {
	return &pacer{base: cfg.PollInterval, fast: cfg.FastPollInterval}
}

// next returns the delay before the tick after one classified as stage.
func (p *pacer) next(stage progress.Stage) time.Duration {
	if stage == progress.StageSceneRendered {
		p.warm = true
	}
	if p.warm {
		return p.fast
	}
	return p.base
}

// stallTracker counts consecutive ticks with an identical serialized
// (snapshot, stage) pair.
type stallTracker struct {
	limit int
	last  []byte
	run   int
}

func newStallTracker(limit int) *stallTracker {
	return &stallTracker{limit: limit}
}

// observe records a tick and reports whether the run now exceeds the limit.
func (t *stallTracker) observe(snapshot progress.LoadProgress, stage progress.Stage) bool {
	key, err := json.Marshal(struct {
		Snapshot progress.LoadProgress `json:"snapshot"`
		Stage    progress.Stage        `json:"stage"`
	}{snapshot, stage})
	if err != nil {
		// Unserializable ticks never count toward a stall.
		t.last, t.run = nil, 0
		return false
	}

	if t.last != nil && string(key) == string(t.last) {
		t.run++
	} else {
		t.last = key
		t.run = 1
	}
	return t.run > t.limit
}

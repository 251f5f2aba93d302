// Package headless implements the client collaborators the sequencer
// drives when no renderer is attached: a bootstrapper that resolves the
// session and dials the game, and a World that reports load progress from
// the live connection.
package headless

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/loading/sequencer"
)

// DefaultFrameInterval paces the frame counter at 30fps.
const DefaultFrameInterval = time.Second / 30

// ErrWorldClosed is returned by World operations after Close.
var ErrWorldClosed = errors.New("world closed")

// Conn is the part of the game connection the headless client reads.
type Conn interface {
	Status() domain.ConnectionStatus
	Bootstrapped() bool
	EntityCount() int
	HasEntity(id uint64) bool
	WaitBootstrapped(ctx context.Context) error
	Close() error
}

// World is the headless client context. It owns the frame counter but not
// the connection.
type World struct {
	conn          Conn
	player        domain.UserID
	frameInterval time.Duration

	mu        sync.Mutex
	meshed    bool
	closed    bool
	frames    atomic.Int64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWorld creates a world for player. An anonymous player has no avatar,
// so its mesh counts as loaded.
func NewWorld(conn Conn, player domain.UserID, frameInterval time.Duration) *World {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	return &World{conn: conn, player: player, frameInterval: frameInterval}
}

var _ sequencer.ClientContext = (*World)(nil)

// Progress reports what has loaded so far.
func (w *World) Progress(context.Context) (sequencer.ClientProgress, error) {
	w.mu.Lock()
	meshed, closed := w.meshed, w.closed
	w.mu.Unlock()
	if closed {
		return sequencer.ClientProgress{}, ErrWorldClosed
	}

	return sequencer.ClientProgress{
		EntitiesLoaded:    w.conn.EntityCount(),
		PlayerMeshLoaded:  w.player == domain.InvalidUserID || w.conn.HasEntity(uint64(w.player)),
		TerrainMeshLoaded: meshed,
		FramesRendered:    int(w.frames.Load()),
	}, nil
}

// MeshNearbyTerrain marks the terrain around the player as meshed and
// starts rendering frames.
func (w *World) MeshNearbyTerrain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorldClosed
	}
	if w.meshed {
		return nil
	}
	w.meshed = true

	rctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.render(rctx)
	return nil
}

// Frames returns how many frames have rendered.
func (w *World) Frames() int {
	return int(w.frames.Load())
}

func (w *World) render(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.frames.Add(1)
		}
	}
}

// Close stops rendering. The connection is closed by whoever opened it.
func (w *World) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		cancel := w.cancel
		w.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		w.wg.Wait()
	})
	return nil
}

package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/loading/progress"
	"github.com/vietddude/biomes-client/internal/metrics"
)

// pollResult is handed back to Load exactly once per attempt. Any client
// context it carries is owned by the receiver.
type pollResult struct {
	client ClientContext
	stage  progress.Stage
	stages []progress.Stage
	forced bool
	err    error
}

type awaitResult struct {
	client ClientContext
	err    error
}

// pollLoop ticks until the attempt resolves or fails and then sends one
// result. Nothing it started is still running when the result is sent.
func (s *Sequencer) pollLoop(ctx context.Context, early *EarlyStart, attempt int, out chan<- pollResult) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		client  ClientContext
		stages  []progress.Stage
		last    = progress.StageNoProgress
		meshing atomic.Bool
		wg      sync.WaitGroup
	)

	awaited := make(chan awaitResult, 1)
	pending := early.Await != nil
	if pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := early.Await(ctx)
			awaited <- awaitResult{client: c, err: err}
		}()
	}

	finish := func(r pollResult) {
		cancel()
		wg.Wait()
		if pending {
			// Await lost the race; whatever it built still needs an owner.
			if late := <-awaited; late.err == nil && late.client != nil {
				if client == nil {
					client = late.client
				} else if err := late.client.Close(); err != nil {
					s.logger.Warn("failed to close late client context", "error", err)
				}
			}
		}
		r.client = client
		r.stages = stages
		if r.stage == progress.StageNoProgress {
			r.stage = last
		}
		out <- r
	}

	mesh := func(c ClientContext) {
		if !meshing.CompareAndSwap(false, true) {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer meshing.Store(false)
			if err := c.MeshNearbyTerrain(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("terrain meshing failed", "attempt", attempt, "error", err)
			}
		}()
	}

	pace := newPacer(s.cfg)
	stall := newStallTracker(s.cfg.StallTicks)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			finish(pollResult{err: ctx.Err()})
			return
		case r := <-awaited:
			pending = false
			if r.err == nil && r.client == nil {
				r.err = errors.New("client context resolved empty")
			}
			if r.err != nil {
				finish(pollResult{err: fmt.Errorf("await client context: %w", r.err)})
				return
			}
			client = r.client
			continue
		case <-timer.C:
		}

		snapshot, err := takeSnapshot(ctx, early.Context, client)
		if err != nil {
			finish(pollResult{err: fmt.Errorf("read load progress: %w", err)})
			return
		}

		stage := progress.Classify(snapshot)
		if n := len(stages); n == 0 || stages[n-1] != stage {
			stages = append(stages, stage)
		}
		last = stage
		s.publish(progress.New(snapshot, stage, attempt))

		switch stage {
		case progress.StageReady:
			if client != nil {
				finish(pollResult{stage: stage})
				return
			}
		case progress.StageBroken:
			finish(pollResult{
				stage: stage,
				err:   domain.WrapError(domain.CodeBroken, "connection broke during load", nil),
			})
			return
		case progress.StageTerrainMeshing:
			if client != nil {
				mesh(client)
			}
		}

		if stall.observe(snapshot, stage) {
			metrics.LoadStalls.WithLabelValues(stage.String()).Inc()
			if client != nil {
				s.logger.Warn("load stalled, continuing with partial client",
					"attempt", attempt,
					"stage", stage.String(),
				)
				finish(pollResult{stage: stage, forced: true})
				return
			}
			finish(pollResult{
				stage: stage,
				err:   domain.NewError(domain.CodeStall, fmt.Sprintf("load stalled at %s", stage)),
			})
			return
		}

		timer.Reset(pace.next(stage))
	}
}

func takeSnapshot(ctx context.Context, early EarlyContext, client ClientContext) (progress.LoadProgress, error) {
	p := progress.LoadProgress{
		StartedLoading:      true,
		EarlyContextPresent: early != nil,
	}
	if early == nil {
		return p, nil
	}
	p.EarlyContextLoaded = early.Loaded()
	p.ConnectionStatus = early.ConnectionStatus()
	p.Bootstrapped = early.Bootstrapped()

	if client == nil {
		return p, nil
	}
	cp, err := client.Progress(ctx)
	if err != nil {
		return p, err
	}
	p.EntitiesLoaded = cp.EntitiesLoaded
	p.PlayerMeshLoaded = cp.PlayerMeshLoaded
	p.TerrainMeshLoaded = cp.TerrainMeshLoaded
	p.FramesRendered = cp.FramesRendered
	return p, nil
}

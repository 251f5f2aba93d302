// Package sequencer drives the client from nothing to a ready (or degraded)
// client context.
//
// One Load runs a bounded series of attempts. Each attempt runs early
// bootstrap under a timeout, then hands off to a poll goroutine that
// classifies progress on every tick until the client is ready, breaks,
// or stalls. Failed attempts are retried after a delay; when retries run
// out the most recent client context is returned as a degraded result.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/infra/storage"
	"github.com/vietddude/biomes-client/internal/infra/tracing"
	"github.com/vietddude/biomes-client/internal/loading/progress"
	"github.com/vietddude/biomes-client/internal/metrics"
)

const reportTimeout = 5 * time.Second

// ErrAlreadyStarted is returned when Load is called twice on one Sequencer.
var ErrAlreadyStarted = errors.New("sequencer: load already started")

// Deps are the collaborators of a Sequencer. Only Bootstrapper is required.
type Deps struct {
	Bootstrapper Bootstrapper
	Reports      storage.LoadReportRepository
	Logger       *slog.Logger
	Observers    []Observer
	// OnTransition is called after every phase change.
	OnTransition func(Transition)
	// UserID tags load reports with the player being loaded.
	UserID func() domain.UserID
}

// Sequencer runs a single Load. Create a new one to load again.
type Sequencer struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu      sync.Mutex
	phase   Phase
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	cleanup func()

	stopOnce sync.Once
}

// New creates a sequencer. Zero config fields take production defaults.
func New(cfg Config, deps Deps) *Sequencer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logger.With("component", "sequencer"),
		tracer: tracing.Tracer(),
		now:    time.Now,
		phase:  PhaseNotStarted,
	}
}

// Phase returns the current lifecycle phase.
func (s *Sequencer) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// held is a client context kept alive past its attempt, together with
// the bootstrap that produced it.
type held struct {
	client ClientContext
	early  *EarlyStart
	stage  progress.Stage
	once   sync.Once
}

func (h *held) release(logger *slog.Logger) {
	h.once.Do(func() {
		if h.client != nil {
			if err := h.client.Close(); err != nil {
				logger.Warn("failed to close client context", "error", err)
			}
		}
		stopEarly(h.early)
	})
}

func stopEarly(early *EarlyStart) {
	if early != nil && early.Stop != nil {
		early.Stop()
	}
}

// loadState is owned by the goroutine running Load.
type loadState struct {
	start     time.Time
	attempts  int
	retries   int
	lastStage progress.Stage
	stages    []progress.Stage
	fallback  *held
}

func (st *loadState) visit(stages []progress.Stage) {
	for _, stage := range stages {
		if n := len(st.stages); n == 0 || st.stages[n-1] != stage {
			st.stages = append(st.stages, stage)
		}
		st.lastStage = stage
	}
}

// Load runs attempts until the client is ready, retries are exhausted,
// ctx ends, or Stop is called. Stop makes a pending Load return ErrStopped.
func (s *Sequencer) Load(ctx context.Context) (*Result, error) {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	ctx, span := s.tracer.Start(ctx, "bootstrap.load")
	defer span.End()

	st := &loadState{start: s.now(), lastStage: progress.StageNoProgress}
	for {
		st.attempts++
		out := s.attempt(ctx, st)
		st.visit(out.stages)

		if out.err == nil {
			h := &held{client: out.client, early: out.early, stage: out.stage}
			if st.fallback != nil {
				st.fallback.release(s.logger)
				st.fallback = nil
			}
			res := s.settle(ctx, st, h, out.forced)
			span.SetAttributes(attribute.Int("attempts", st.attempts), attribute.Bool("degraded", res.Degraded))
			return res, nil
		}

		// Keep the newest client context as the fallback.
		if out.client != nil {
			if st.fallback != nil {
				st.fallback.release(s.logger)
			}
			st.fallback = &held{client: out.client, early: out.early, stage: out.stage}
		} else {
			stopEarly(out.early)
		}

		if ctx.Err() != nil {
			err := s.abort(ctx, st, out.err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if st.retries >= s.cfg.MaxRetries {
			if st.fallback != nil {
				h := st.fallback
				st.fallback = nil
				s.logger.Warn("load retries exhausted, continuing degraded",
					"attempts", st.attempts,
					"stage", h.stage.String(),
					"error", out.err,
				)
				res := s.settle(ctx, st, h, true)
				span.SetAttributes(attribute.Int("attempts", st.attempts), attribute.Bool("degraded", true))
				return res, nil
			}

			err := domain.WrapError(domain.CodeExhaustedRetries,
				fmt.Sprintf("load failed after %d attempts", st.attempts), out.err)
			s.setPhase(PhaseFailed, err.Error())
			s.record(ctx, st, domain.LoadOutcomeFailed, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		st.retries++
		s.logger.Warn("load attempt failed, retrying",
			"attempt", st.attempts,
			"stage", st.lastStage.String(),
			"delay", s.cfg.RetryDelay,
			"error", out.err,
		)
		s.setPhase(PhaseRetrying, out.err.Error())
		s.publish(progress.Reconnecting(st.lastStage, st.attempts))

		if err := sleep(ctx, s.cfg.RetryDelay); err != nil {
			err := s.abort(ctx, st, err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
}

// Stop cancels a pending Load, waits for it to return, and releases the
// loaded client. Calls after the first are no-ops.
func (s *Sequencer) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		cancel, done := s.cancel, s.done
		s.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}

		s.mu.Lock()
		cleanup := s.cleanup
		s.cleanup = nil
		s.mu.Unlock()
		if cleanup != nil {
			cleanup()
		}

		s.setPhase(PhaseStopped, "stop requested")
	})
}

func (s *Sequencer) begin(parent context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, nil, domain.ErrStopped
	}
	if s.started {
		return nil, nil, ErrAlreadyStarted
	}
	s.started = true

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	return ctx, func() {
		cancel()
		close(done)
	}, nil
}

type attemptOutcome struct {
	early  *EarlyStart
	client ClientContext
	stage  progress.Stage
	stages []progress.Stage
	forced bool
	err    error
}

func (s *Sequencer) attempt(ctx context.Context, st *loadState) attemptOutcome {
	attemptID := uuid.NewString()
	ctx, span := s.tracer.Start(ctx, "bootstrap.attempt", trace.WithAttributes(
		attribute.Int("attempt", st.attempts),
		attribute.String("attempt.id", attemptID),
	))
	defer span.End()

	metrics.LoadAttempts.Inc()
	s.setPhase(PhaseBootstrapping, fmt.Sprintf("attempt %d", st.attempts))
	s.logger.Debug("starting load attempt", "attempt", st.attempts, "attempt_id", attemptID)

	early, err := s.bootstrap(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return attemptOutcome{stage: st.lastStage, err: fmt.Errorf("bootstrap: %w", err)}
	}

	s.setPhase(PhasePolling, "early bootstrap complete")

	results := make(chan pollResult, 1)
	go s.pollLoop(ctx, early, st.attempts, results)
	r := <-results

	span.SetAttributes(attribute.String("stage", r.stage.String()))
	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, r.err.Error())
	}
	return attemptOutcome{
		early:  early,
		client: r.client,
		stage:  r.stage,
		stages: r.stages,
		forced: r.forced,
		err:    r.err,
	}
}

// bootstrap runs early bootstrap raced against the global timeout. A
// bootstrap that completes after losing the race is stopped.
func (s *Sequencer) bootstrap(ctx context.Context) (*EarlyStart, error) {
	type result struct {
		early *EarlyStart
		err   error
	}

	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		early, err := s.deps.Bootstrapper.Bootstrap(bctx)
		ch <- result{early, err}
	}()

	abandon := func() {
		go func() {
			if r := <-ch; r.err == nil {
				stopEarly(r.early)
			}
		}()
	}

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.early == nil {
			return nil, errors.New("bootstrapper returned no early start")
		}
		return r.early, nil
	case <-timer.C:
		abandon()
		return nil, domain.NewError(domain.CodeBootstrapTimeout,
			fmt.Sprintf("early bootstrap did not finish within %s", s.cfg.Timeout))
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// settle turns a held client into the Load result and keeps its cleanup
// for Stop.
func (s *Sequencer) settle(ctx context.Context, st *loadState, h *held, degraded bool) *Result {
	s.mu.Lock()
	s.cleanup = func() { h.release(s.logger) }
	s.mu.Unlock()

	outcome := domain.LoadOutcomeReady
	if degraded {
		outcome = domain.LoadOutcomeDegraded
	}
	st.lastStage = h.stage
	s.setPhase(PhaseReady, string(outcome))
	s.record(ctx, st, outcome, nil)

	var early EarlyContext
	if h.early != nil {
		early = h.early.Context
	}
	res := &Result{
		Context:  h.client,
		Early:    early,
		Stage:    h.stage,
		Attempts: st.attempts,
		Degraded: degraded,
		Duration: s.now().Sub(st.start),
	}
	s.logger.Info("client loaded",
		"outcome", outcome,
		"stage", h.stage.String(),
		"attempts", st.attempts,
		"duration", res.Duration,
	)
	return res
}

// abort finishes a Load cut short by Stop or ctx.
func (s *Sequencer) abort(ctx context.Context, st *loadState, cause error) error {
	if st.fallback != nil {
		st.fallback.release(s.logger)
		st.fallback = nil
	}

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	err := ctx.Err()
	if stopped {
		err = domain.ErrStopped
	}
	if err == nil {
		err = cause
	}

	s.setPhase(PhaseStopped, err.Error())
	s.record(ctx, st, domain.LoadOutcomeStopped, err)
	return err
}

// record publishes outcome metrics and persists a load report. A failed
// write is logged and otherwise ignored.
func (s *Sequencer) record(ctx context.Context, st *loadState, outcome domain.LoadOutcome, loadErr error) {
	elapsed := s.now().Sub(st.start)
	metrics.LoadsTotal.WithLabelValues(string(outcome)).Inc()
	metrics.LoadDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())

	if s.deps.Reports == nil {
		return
	}

	report := &domain.LoadReport{
		ID:         uuid.NewString(),
		StartedAt:  st.start,
		Duration:   elapsed,
		Attempts:   st.attempts,
		FinalStage: st.lastStage.String(),
		Outcome:    outcome,
		Stages:     make([]string, 0, len(st.stages)),
	}
	for _, stage := range st.stages {
		report.Stages = append(report.Stages, stage.String())
	}
	if s.deps.UserID != nil {
		report.UserID = s.deps.UserID()
	}
	if loadErr != nil {
		report.Error = loadErr.Error()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := s.deps.Reports.Save(wctx, report); err != nil {
		s.logger.Warn("failed to save load report", "report_id", report.ID, "error", err)
	}
}

func (s *Sequencer) publish(p progress.Progress) {
	metrics.LoadStage.Set(float64(p.Rank))
	for _, observe := range s.deps.Observers {
		observe(p)
	}
}

func (s *Sequencer) setPhase(to Phase, reason string) {
	s.mu.Lock()
	from := s.phase
	if from == to {
		s.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		s.mu.Unlock()
		s.logger.Error("rejected phase change",
			"error", fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, from, to),
		)
		return
	}
	s.phase = to
	s.mu.Unlock()

	if s.deps.OnTransition != nil {
		s.deps.OnTransition(Transition{From: from, To: to, Reason: reason, Timestamp: s.now()})
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/biomes-client/internal/auth"
	"github.com/vietddude/biomes-client/internal/core/config"
	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/core/worker"
	"github.com/vietddude/biomes-client/internal/headless"
	"github.com/vietddude/biomes-client/internal/infra/api"
	"github.com/vietddude/biomes-client/internal/infra/fetch"
	"github.com/vietddude/biomes-client/internal/infra/game"
	redisclient "github.com/vietddude/biomes-client/internal/infra/redis"
	"github.com/vietddude/biomes-client/internal/infra/storage"
	"github.com/vietddude/biomes-client/internal/infra/storage/memory"
	"github.com/vietddude/biomes-client/internal/infra/storage/postgres"
	"github.com/vietddude/biomes-client/internal/infra/tracing"
	"github.com/vietddude/biomes-client/internal/loading/health"
	"github.com/vietddude/biomes-client/internal/loading/progress"
	"github.com/vietddude/biomes-client/internal/loading/sequencer"
)

const shutdownTimeout = 5 * time.Second

// Client is the headless client application. It owns every collaborator
// and runs one sequencer at a time.
type Client struct {
	cfg    config.AppConfig
	log    *slog.Logger
	boot   sequencer.Bootstrapper
	auth   *auth.Manager
	fetch  *fetch.Client
	dialer *game.Dialer

	reports      storage.LoadReportRepository
	db           *postgres.DB
	redisClient  *redisclient.Client
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server

	shutdownTracing func(context.Context) error

	mu      sync.Mutex
	runCtx  context.Context
	seq     *sequencer.Sequencer
	result  *sequencer.Result
	loads   sync.WaitGroup
	stopped bool
}

// New creates a Client with all dependencies initialized.
func New(ctx context.Context, cfg config.AppConfig, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		cfg:       cfg,
		log:       log,
		healthMon: health.NewMonitor(),
	}

	// 1. Tracing
	shutdown, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	c.shutdownTracing = shutdown

	// 2. Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, c.fail(ctx, fmt.Errorf("failed to init db: %w", err))
		}
		c.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, c.fail(ctx, fmt.Errorf("failed to migrate db: %w", err))
		}
		c.reports = postgres.NewReportRepo(db)
		c.healthMon.AddCheck("database", db.Health)
		log.Info("Using PostgreSQL storage")
	} else {
		c.reports = memory.NewReportRepo(memory.NewMemoryStorage())
		log.Info("Using Memory storage")
	}
	if cfg.Database.Retention > 0 {
		c.pruner = worker.NewPruner(cfg.Database.Retention, c.reports, log)
	}

	// 3. Hint store
	var hints auth.HintStore
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, using in-memory hints", "error", err)
		} else {
			c.redisClient = rc
			hints = redisclient.NewHintStore(rc)
			c.healthMon.AddCheck("redis", rc.Ping)
		}
	}

	// 4. API and session
	fc, err := fetch.NewClient(cfg.API, log)
	if err != nil {
		return nil, c.fail(ctx, fmt.Errorf("failed to init api client: %w", err))
	}
	c.fetch = fc
	c.auth = auth.NewManager(auth.Config{
		ProfilePolicy: cfg.Auth.ProfileRetry,
		Reloader:      c.reload,
	}, api.New(fc), hints, log)

	// 5. Game
	c.dialer = game.NewDialer(cfg.Game, log)
	c.boot = headless.NewBootstrapper(c.auth, func(id domain.UserID) headless.Conn {
		return c.dialer.Open(id)
	}, headless.Options{
		UserID:        cfg.Auth.UserID,
		FrameInterval: cfg.Auth.FrameInterval,
	}, log)

	// 6. Health server
	c.healthServer = health.NewServer(c.healthMon, cfg.Server.Port)

	return c, nil
}

// Run serves health, loads the client and blocks until ctx ends or the
// health server fails.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	c.mu.Lock()
	c.runCtx = gctx
	c.mu.Unlock()

	g.Go(func() error {
		if err := c.healthServer.Start(); err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return c.healthServer.Stop(sctx)
	})

	if c.db != nil {
		c.db.StartMetricsCollector(gctx)
	}
	if c.pruner != nil {
		g.Go(func() error {
			c.pruner.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		c.startLoad(gctx)
		<-gctx.Done()
		c.stopSequencer()
		c.loads.Wait()
		return nil
	})

	return g.Wait()
}

// Result returns the loaded client, or nil while loading.
func (c *Client) Result() *sequencer.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Health returns the current health report.
func (c *Client) Health(ctx context.Context) health.HealthReport {
	return c.healthMon.CheckHealth(ctx)
}

// RecentReports lists the newest load reports.
func (c *Client) RecentReports(ctx context.Context, limit int) ([]*domain.LoadReport, error) {
	return c.reports.Recent(ctx, limit)
}

// Logout ends the server session. A running client restarts its load.
func (c *Client) Logout(ctx context.Context) error {
	return c.auth.Logout(ctx)
}

// Stop stops the sequencer and releases storage and tracing.
func (c *Client) Stop(ctx context.Context) error {
	c.log.Info("Stopping client...")

	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.stopSequencer()
	c.loads.Wait()
	return c.closeInfra(ctx)
}

// fail releases whatever New opened before err and returns both.
func (c *Client) fail(ctx context.Context, err error) error {
	if cerr := c.closeInfra(ctx); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

func (c *Client) closeInfra(ctx context.Context) error {
	var errs []error
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	if c.shutdownTracing != nil {
		if err := c.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) newSequencer() *sequencer.Sequencer {
	var lastRank atomic.Int64
	lastRank.Store(-1)

	return sequencer.New(c.cfg.Loading, sequencer.Deps{
		Bootstrapper: c.boot,
		Reports:      c.reports,
		Logger:       c.log,
		Observers: []sequencer.Observer{
			c.healthMon.Observe,
			func(p progress.Progress) {
				if lastRank.Swap(int64(p.Rank)) != int64(p.Rank) {
					c.log.Info("Loading", "stage", p.Stage.String(), "description", p.Description, "attempt", p.Attempt)
				}
			},
		},
		OnTransition: func(t sequencer.Transition) {
			c.healthMon.SetPhase(t.To.String())
		},
		UserID: func() domain.UserID {
			if s := c.auth.Session(); s != nil {
				return s.UserID()
			}
			return c.cfg.Auth.UserID
		},
	})
}

// startLoad runs a fresh sequencer in the background.
func (c *Client) startLoad(ctx context.Context) {
	c.mu.Lock()
	if c.stopped || ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	seq := c.newSequencer()
	c.seq = seq
	c.result = nil
	c.loads.Add(1)
	c.mu.Unlock()

	c.healthMon.Reset()

	go func() {
		defer c.loads.Done()

		res, err := seq.Load(ctx)
		switch {
		case err == nil:
			c.mu.Lock()
			current := c.seq == seq
			if current {
				c.result = res
			}
			c.mu.Unlock()
			if current {
				c.healthMon.SetResult(res.Degraded, nil)
			}
		case errors.Is(err, domain.ErrStopped), errors.Is(err, context.Canceled):
			c.log.Debug("Load stopped", "error", err)
		default:
			c.log.Error("Load failed", "error", err)
			c.healthMon.SetResult(false, err)
		}
	}()
}

func (c *Client) stopSequencer() {
	c.mu.Lock()
	seq := c.seq
	c.seq = nil
	c.result = nil
	c.mu.Unlock()

	if seq != nil {
		seq.Stop()
	}
}

// reload restarts the client session after logout.
func (c *Client) reload(_ context.Context, route string) error {
	c.log.Info("Reloading client", "route", route)
	c.stopSequencer()

	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()

	if runCtx != nil {
		c.startLoad(runCtx)
	}
	return nil
}

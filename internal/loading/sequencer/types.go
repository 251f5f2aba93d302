package sequencer

import (
	"context"
	"time"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/loading/progress"
)

// EarlyContext is the handle produced by early bootstrap. It must be safe
// to read from the poll goroutine.
type EarlyContext interface {
	// Loaded reports whether static assets and config have finished loading.
	Loaded() bool
	ConnectionStatus() domain.ConnectionStatus
	// Bootstrapped reports whether the server's initial state has arrived.
	Bootstrapped() bool
}

// ClientProgress is what the full client context reports each tick.
type ClientProgress struct {
	EntitiesLoaded    int
	PlayerMeshLoaded  bool
	TerrainMeshLoaded bool
	FramesRendered    int
}

// ClientContext is the fully constructed client.
type ClientContext interface {
	Progress(ctx context.Context) (ClientProgress, error)
	// MeshNearbyTerrain builds any unmeshed terrain around the player.
	MeshNearbyTerrain(ctx context.Context) error
	Close() error
}

// EarlyStart is what a successful early bootstrap yields.
type EarlyStart struct {
	Context EarlyContext
	// Await blocks until the full client context is constructed. It must
	// return promptly once ctx is cancelled.
	Await func(ctx context.Context) (ClientContext, error)
	// Stop tears down everything the bootstrap started.
	Stop func()
}

// Bootstrapper runs the early bootstrap step. The ctx bounds only the call
// itself; resources it starts live until EarlyStart.Stop.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) (*EarlyStart, error)
}

// BootstrapFunc adapts a function to Bootstrapper.
type BootstrapFunc func(ctx context.Context) (*EarlyStart, error)

func (f BootstrapFunc) Bootstrap(ctx context.Context) (*EarlyStart, error) { return f(ctx) }

// Observer receives every published progress update, in order, from the
// load goroutines. It must not block and must not call Stop.
type Observer func(progress.Progress)

// Result is a loaded client.
type Result struct {
	Context ClientContext
	Early   EarlyContext
	Stage   progress.Stage
	// Attempts counts every attempt including the one that produced the result.
	Attempts int
	// Degraded is set when the client was force-resolved before reaching ready.
	Degraded bool
	Duration time.Duration
}

// Config holds sequencer timing and retry settings.
type Config struct {
	Timeout          time.Duration `yaml:"timeout" env:"TIMEOUT"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	FastPollInterval time.Duration `yaml:"fast_poll_interval" env:"FAST_POLL_INTERVAL"`
	StallTicks       int           `yaml:"stall_ticks" env:"STALL_TICKS"`
	MaxRetries       int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryDelay       time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Timeout:          60 * time.Second,
		PollInterval:     500 * time.Millisecond,
		FastPollInterval: 33 * time.Millisecond,
		StallTicks:       30,
		MaxRetries:       3,
		RetryDelay:       1 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.FastPollInterval <= 0 {
		c.FastPollInterval = d.FastPollInterval
	}
	if c.StallTicks <= 0 {
		c.StallTicks = d.StallTicks
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

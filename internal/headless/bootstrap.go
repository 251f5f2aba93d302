package headless

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/biomes-client/internal/core/domain"
	"github.com/vietddude/biomes-client/internal/loading/sequencer"
)

// Sessions resolves who is playing.
type Sessions interface {
	CheckSession(ctx context.Context) (domain.UserID, error)
	Bootstrap(ctx context.Context, userID domain.UserID) (*domain.Session, error)
}

// DialFunc opens a game connection for a player. It must not block on
// the network.
type DialFunc func(userID domain.UserID) Conn

// Options tune a Bootstrapper.
type Options struct {
	// UserID skips the server session check when set.
	UserID        domain.UserID
	FrameInterval time.Duration
}

// Bootstrapper is the headless early bootstrap.
type Bootstrapper struct {
	sessions Sessions
	dial     DialFunc
	opts     Options
	logger   *slog.Logger
}

// NewBootstrapper creates a bootstrapper.
func NewBootstrapper(sessions Sessions, dial DialFunc, opts Options, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{
		sessions: sessions,
		dial:     dial,
		opts:     opts,
		logger:   logger.With("component", "headless"),
	}
}

var _ sequencer.Bootstrapper = (*Bootstrapper)(nil)

// Bootstrap resolves the session and starts the game connection. The
// returned Await yields a World once the server has sent its initial state.
func (b *Bootstrapper) Bootstrap(ctx context.Context) (*sequencer.EarlyStart, error) {
	userID := b.opts.UserID
	if userID == domain.InvalidUserID {
		id, err := b.sessions.CheckSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("check session: %w", err)
		}
		userID = id
	}

	session, err := b.sessions.Bootstrap(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	b.logger.Info("session resolved",
		"user_id", session.UserID(),
		"anonymous", session.IsAnonymous(),
		"roles", session.Roles(),
	)

	conn := b.dial(session.UserID())
	player := session.UserID()

	return &sequencer.EarlyStart{
		Context: earlyContext{conn: conn},
		Await: func(ctx context.Context) (sequencer.ClientContext, error) {
			if err := conn.WaitBootstrapped(ctx); err != nil {
				return nil, err
			}
			return NewWorld(conn, player, b.opts.FrameInterval), nil
		},
		Stop: func() {
			if err := conn.Close(); err != nil {
				b.logger.Warn("failed to close game connection", "error", err)
			}
		},
	}, nil
}

// earlyContext has nothing to load besides the session, which is resolved
// before it exists.
type earlyContext struct {
	conn Conn
}

func (e earlyContext) Loaded() bool { return true }

func (e earlyContext) ConnectionStatus() domain.ConnectionStatus { return e.conn.Status() }

func (e earlyContext) Bootstrapped() bool { return e.conn.Bootstrapped() }

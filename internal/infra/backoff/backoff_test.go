package backoff

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/biomes-client/internal/testutil"
)

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 1250 * time.Millisecond},
		{2, 1563 * time.Millisecond}, // 1562.5 rounds up
		{3, 1953 * time.Millisecond},
		{4, 2441 * time.Millisecond},
		{10, 9313 * time.Millisecond},
		{11, 10 * time.Second},
		{50, 10 * time.Second},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_DelayNeverExceedsMax(t *testing.T) {
	p := Policy{BaseDelay: 300 * time.Millisecond, Exponent: 3, MaxDelay: 5 * time.Second, MaxAttempts: 10}
	prev := time.Duration(0)
	for n := 0; n < 20; n++ {
		d := p.Delay(n)
		require.LessOrEqual(t, d, p.MaxDelay)
		require.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func fastPolicy(attempts int) Policy {
	return Policy{BaseDelay: time.Millisecond, Exponent: 1.25, MaxDelay: 5 * time.Millisecond, MaxAttempts: attempts}
}

func TestRun_SucceedsAfterFailures(t *testing.T) {
	rec, logger := testutil.NewLogRecorder()

	calls := 0
	err := Run(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		if calls <= 3 {
			return errors.New("connection refused")
		}
		return nil
	}, WithLogger(logger), WithName("test"))

	require.NoError(t, err)
	require.Equal(t, 4, calls)
	require.Equal(t, 3, rec.Count(slog.LevelWarn))
}

func TestRun_Exhausted(t *testing.T) {
	rec, logger := testutil.NewLogRecorder()
	boom := errors.New("boom")

	calls := 0
	err := Run(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return boom
	}, WithLogger(logger))

	require.Equal(t, 5, calls)
	require.ErrorIs(t, err, boom)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 5, exhausted.Attempts)

	// No warning for the last attempt: nothing follows it.
	require.Equal(t, 4, rec.Count(slog.LevelWarn))
}

func TestRun_ClassifierFatalStopsImmediately(t *testing.T) {
	fatal := errors.New("unauthorized")

	calls := 0
	err := Run(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return fatal
	}, WithLogger(slogt.New(t)), WithClassifier(func(err error) Action {
		if errors.Is(err, fatal) {
			return ActionFatal
		}
		return ActionRetry
	}))

	require.Equal(t, 1, calls)
	require.Equal(t, fatal, err)
}

func TestRun_PermanentUnwraps(t *testing.T) {
	inner := errors.New("bad request")

	calls := 0
	err := Run(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return Permanent(inner)
	}, WithLogger(slogt.New(t)))

	require.Equal(t, 1, calls)
	require.Equal(t, inner, err)
}

func TestRun_ContextCancelIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{BaseDelay: time.Hour, Exponent: 1, MaxDelay: time.Hour, MaxAttempts: 5}

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, p, func(ctx context.Context) error {
			return errors.New("fail")
		}, WithLogger(slogt.New(t)))
	}()

	// The first failure schedules an hour-long sleep; cancel must cut it short.
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := testutil.RequireReceive(t, done, time.Second, "Run did not return after cancel")
	require.ErrorIs(t, err, context.Canceled)
}

func TestDo_ReturnsValue(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient")
		}
		return "profile", nil
	}, WithLogger(slogt.New(t)))

	require.NoError(t, err)
	require.Equal(t, "profile", v)
	require.Equal(t, 2, calls)
}

func TestRun_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Run(context.Background(), Policy{}, func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	}, WithLogger(slogt.New(t)))

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

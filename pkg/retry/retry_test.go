package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestSettingsVerify(t *testing.T) {
	require.NoError(t, DefaultSettings().Verify())
	require.Error(t, Settings{Multiplier: 2, MaxRetries: 1}.Verify())
	require.Error(t, Settings{InitialBackoff: time.Second, MaxRetries: 1}.Verify())
	require.Error(t, Settings{InitialBackoff: time.Second, Multiplier: 2, MaxBackoff: time.Millisecond, MaxRetries: 1}.Verify())
	require.Error(t, Settings{InitialBackoff: time.Second, Multiplier: 2}.Verify())
}

func TestRetryBackoffSchedule(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r, err := NewRetryWithTime(start, Settings{
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     3 * time.Second,
		MaxRetries:     4,
	})
	require.NoError(t, err)

	var backoffs []time.Duration
	for r.ShouldContinue() {
		backoffs = append(backoffs, r.Backoff())
		r.Next()
	}
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, backoffs)
	require.Equal(t, 4, r.Iteration)
}

func fastSettings() Settings {
	return Settings{InitialBackoff: time.Millisecond, Multiplier: 1, MaxRetries: 3}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastSettings(), func(ctx context.Context, attempt int) error {
		attempts++
		if attempt < 3 {
			return errors.New("allocation failed")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanent(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastSettings(), func(ctx context.Context, attempt int) error {
		attempts++
		return Permanent(errors.New("bad dump"))
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	err := Do(context.Background(), fastSettings(), func(ctx context.Context, attempt int) error {
		return errors.Newf("attempt %d", attempt)
	})
	require.EqualError(t, err, "attempt 3")
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Settings{InitialBackoff: time.Hour, Multiplier: 1, MaxRetries: 5}, func(ctx context.Context, attempt int) error {
		return errors.New("down")
	})
	require.ErrorIs(t, err, context.Canceled)
}

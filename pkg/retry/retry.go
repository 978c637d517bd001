// Package retry implements bounded exponential backoff for transient
// infrastructure failures such as sandbox allocation.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

type Settings struct {
	InitialBackoff time.Duration
	Multiplier     int
	MaxBackoff     time.Duration
	MaxRetries     int
}

func (s Settings) Verify() error {
	if s.InitialBackoff <= 0 {
		return errors.Newf("initial backoff must be > 0, got %s", s.InitialBackoff)
	}
	if s.Multiplier < 1 {
		return errors.Newf("multiplier must be >= 1, got %d", s.Multiplier)
	}
	if s.MaxBackoff > 0 && s.InitialBackoff > s.MaxBackoff {
		return errors.Newf("initial backoff (%s) must be less than max backoff (%s)", s.InitialBackoff, s.MaxBackoff)
	}
	if s.MaxRetries < 1 {
		return errors.Newf("max retries must be >= 1, got %d", s.MaxRetries)
	}
	return nil
}

func DefaultSettings() Settings {
	return Settings{
		InitialBackoff: 200 * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     2 * time.Second,
		MaxRetries:     3,
	}
}

type Retry struct {
	Iteration int
	StartTime time.Time
	NextRetry time.Time

	settings Settings
}

func NewRetry(settings Settings) (*Retry, error) {
	return NewRetryWithTime(time.Now(), settings)
}

func NewRetryWithTime(t time.Time, settings Settings) (*Retry, error) {
	if err := settings.Verify(); err != nil {
		return nil, err
	}
	return &Retry{
		Iteration: 1,
		StartTime: t,
		NextRetry: t.Add(settings.InitialBackoff),
		settings:  settings,
	}, nil
}

func (rm *Retry) ShouldContinue() bool {
	return rm.Iteration < rm.settings.MaxRetries
}

// Backoff is the delay before the next attempt.
func (rm *Retry) Backoff() time.Duration {
	d := rm.settings.InitialBackoff * time.Duration(math.Pow(float64(rm.settings.Multiplier), float64(rm.Iteration-1)))
	if rm.settings.MaxBackoff > 0 && d > rm.settings.MaxBackoff {
		d = rm.settings.MaxBackoff
	}
	return d
}

func (rm *Retry) Next() {
	rm.NextRetry = rm.NextRetry.Add(rm.Backoff())
	rm.Iteration++
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errPermanent)
}

var errPermanent = errors.New("permanent failure")

// Do calls fn until it succeeds, returns a Permanent error, the attempts are
// exhausted or ctx is done. The last error is returned.
func Do(ctx context.Context, settings Settings, fn func(ctx context.Context, attempt int) error) error {
	r, err := NewRetry(settings)
	if err != nil {
		return err
	}
	for {
		err := fn(ctx, r.Iteration)
		if err == nil {
			return nil
		}
		if errors.Is(err, errPermanent) || !r.ShouldContinue() {
			return err
		}
		timer := time.NewTimer(r.Backoff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(ctx.Err(), "retry interrupted after: %v", err)
		case <-timer.C:
		}
		r.Next()
	}
}

package plan

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/acqctl/internal/device"
)

// ConnectWithRetry names and connects devices, retrying the whole set with
// backoff until it connects or attempts run out. Each attempt is bounded by
// timeout.
func ConnectWithRetry(ctx context.Context, devices map[string]device.Device, timeout time.Duration, attempts int, backoff BackoffConfig) error {
	if attempts < 1 {
		attempts = 1
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; ; attempt++ {
		err := device.Collect(ctx, timeout, devices)
		if err == nil {
			return nil
		}
		if attempt >= attempts {
			return fmt.Errorf("connect after %d attempts: %w", attempt, err)
		}
		delay := NextBackoffDelay(backoff, attempt, rng)
		log.Warn().Int("attempt", attempt).Dur("retry_in", delay).Err(err).Msg("device connect failed")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

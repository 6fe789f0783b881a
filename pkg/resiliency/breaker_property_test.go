package resiliency

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: the breaker opens on exactly the threshold-th failure and
// admits again only once the reset timeout has elapsed.
func TestCircuitBreakerThresholdProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("opens at threshold, recovers after timeout", prop.ForAll(
		func(threshold int, resetS int, waitS int) bool {
			clock := newFakeClock()
			reset := time.Duration(resetS) * time.Second
			cb := NewCircuitBreaker("prop", threshold, reset).WithClock(clock.Now)

			for i := 1; i < threshold; i++ {
				cb.RecordFailure()
				if cb.IsOpen() || !cb.Allow() {
					return false
				}
			}
			cb.RecordFailure()
			if !cb.IsOpen() {
				return false
			}

			clock.Advance(time.Duration(waitS) * time.Second)
			elapsed := waitS >= resetS
			return cb.Allow() == elapsed && cb.IsOpen() == !elapsed
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 120),
		gen.IntRange(0, 240),
	))

	properties.TestingRun(t)
}

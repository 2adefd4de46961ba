package submitter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainThrottleSpacesSameHost(t *testing.T) {
	throttle := NewDomainThrottle(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, throttle.Wait(ctx, "https://www.yelp.com/signup"))
	require.NoError(t, throttle.Wait(ctx, "https://yelp.com/other"))
	elapsed := time.Since(start)

	// Second call to the same host (www stripped) must wait the interval.
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestDomainThrottleIndependentHosts(t *testing.T) {
	throttle := NewDomainThrottle(500 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, throttle.Wait(ctx, "https://a.example.com"))
	require.NoError(t, throttle.Wait(ctx, "https://b.example.com"))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestDomainThrottleDisabled(t *testing.T) {
	throttle := NewDomainThrottle(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, throttle.Wait(ctx, "https://example.com"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestDomainThrottleHonoursCancellation(t *testing.T) {
	throttle := NewDomainThrottle(10 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, throttle.Wait(ctx, "https://example.com"))
	err := throttle.Wait(ctx, "https://example.com")
	assert.Error(t, err)
}

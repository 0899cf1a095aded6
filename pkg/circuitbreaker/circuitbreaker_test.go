package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRoundTrip = errors.New("round trip failed")

func fastSettings() Settings {
	return Settings{Trip: 3, Cooldown: 20 * time.Millisecond, Recover: 2}
}

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Do(func() error { return errRoundTrip })
	}
}

func TestClosedBreakerPassesCallsThrough(t *testing.T) {
	b := New(fastSettings())

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "closed", b.State())
}

func TestCallerSeesUnwrappedError(t *testing.T) {
	b := New(fastSettings())

	err := b.Do(func() error { return errRoundTrip })
	assert.ErrorIs(t, err, errRoundTrip)
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New(fastSettings())

	failN(b, 3)
	assert.Equal(t, "open", b.State())

	err := b.Do(func() error {
		t.Fatal("open breaker must not invoke the call")
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b := New(fastSettings())

	failN(b, 2)
	require.NoError(t, b.Do(func() error { return nil }))
	failN(b, 2)

	// 2 failures, a success, then 2 more: never 3 in a row
	assert.Equal(t, "closed", b.State())
}

func TestProbeAdmittedAfterCooldown(t *testing.T) {
	b := New(fastSettings())
	failN(b, 3)

	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrOpen)

	time.Sleep(30 * time.Millisecond)

	probed := false
	require.NoError(t, b.Do(func() error {
		probed = true
		return nil
	}))
	assert.True(t, probed)
	assert.Equal(t, "probing", b.State())
}

func TestProbeFailureReopensBreaker(t *testing.T) {
	b := New(fastSettings())
	failN(b, 3)
	time.Sleep(30 * time.Millisecond)

	_ = b.Do(func() error { return errRoundTrip })

	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrOpen)
}

func TestBreakerClosesAfterRecoverSuccesses(t *testing.T) {
	b := New(fastSettings())
	failN(b, 3)
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, "probing", b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}

func TestOnlyOneProbeInFlight(t *testing.T) {
	b := New(fastSettings())
	failN(b, 3)
	time.Sleep(30 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// while the probe is executing, further calls fail fast
	assert.ErrorIs(t, b.Do(func() error { return nil }), ErrOpen)

	close(release)
	require.NoError(t, <-done)
}

func TestZeroThresholdsAreClamped(t *testing.T) {
	b := New(Settings{Cooldown: 20 * time.Millisecond})

	_ = b.Do(func() error { return errRoundTrip })
	assert.Equal(t, "open", b.State())

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceBackoff_FloorThenDoubling(t *testing.T) {
	t.Parallel()
	backoff := SourceBackoff(time.Second, 2*time.Second)
	err := NewTransientError(errors.New("busy"), 503)

	assert.Equal(t, 2*time.Second, backoff(0, err))
	assert.Equal(t, 2*time.Second, backoff(1, err))
	assert.Equal(t, 4*time.Second, backoff(2, err))
	assert.Equal(t, 8*time.Second, backoff(3, err))
	assert.Equal(t, 16*time.Second, backoff(4, err))
}

func TestSourceBackoff_HonorsRetryAfterExactly(t *testing.T) {
	t.Parallel()
	backoff := SourceBackoff(time.Second, 2*time.Second)

	err := NewTransientError(errors.New("slow down"), 429).WithRetryAfter(7 * time.Second)
	assert.Equal(t, 7*time.Second, backoff(0, err))

	// Zero is a real hint and wins over the floor.
	zero := NewTransientError(errors.New("slow down"), 429).WithRetryAfter(0)
	assert.Equal(t, time.Duration(0), backoff(3, fmt.Errorf("page 2: %w", zero)))
}

func TestRetryAfterHint(t *testing.T) {
	t.Parallel()

	_, ok := RetryAfterHint(errors.New("plain"))
	assert.False(t, ok)

	_, ok = RetryAfterHint(NewTransientError(errors.New("no hint"), 503))
	assert.False(t, ok)

	d, ok := RetryAfterHint(fmt.Errorf("wrapped: %w",
		NewTransientError(errors.New("limited"), 429).WithRetryAfter(3*time.Second)))
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, d)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"5", 5 * time.Second, true},
		{"0", 0, true},
		{"-3", 0, false},
		{"soon", 0, false},
		{"Mon, 02 Jan 2006 15:04:05 GMT", 0, true},
	}
	for _, tt := range tests {
		got, ok := ParseRetryAfter(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	got, ok := ParseRetryAfter(future)
	require.True(t, ok)
	assert.Greater(t, got, 60*time.Second)
	assert.LessOrEqual(t, got, 90*time.Second)
}

func TestDo_UsesBackoffHook(t *testing.T) {
	t.Parallel()

	var calls int
	var seen []int
	cfg := RetryConfig{
		MaxAttempts: 4,
		Backoff: func(attempt int, _ error) time.Duration {
			seen = append(seen, attempt)
			return time.Millisecond
		},
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("again"), 502)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestFromSourceConfig(t *testing.T) {
	t.Parallel()

	cfg := FromSourceConfig(6, time.Second, 2*time.Second)
	assert.Equal(t, 6, cfg.MaxAttempts)
	require.NotNil(t, cfg.Backoff)
	assert.Equal(t, 4*time.Second, cfg.Backoff(2, errors.New("x")))

	def := FromSourceConfig(0, time.Second, time.Second)
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
}

func TestFromRetryConfig(t *testing.T) {
	t.Parallel()

	cfg := FromRetryConfig(4, 250, 5000, 3, 0)
	assert.Equal(t, 4, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.InDelta(t, 3.0, cfg.Multiplier, 1e-9)
	assert.Zero(t, cfg.JitterFraction)

	def := FromRetryConfig(0, 0, 0, 0, -1)
	assert.Equal(t, DefaultRetryConfig(), def)
}

func TestWithSourceBackoff(t *testing.T) {
	t.Parallel()

	cfg := WithSourceBackoff(FromRetryConfig(6, 1000, 10000, 2, 0), 2*time.Second)
	require.NotNil(t, cfg.Backoff)
	assert.Equal(t, 6, cfg.MaxAttempts)

	err := NewTransientError(errors.New("busy"), 503)
	assert.Equal(t, 2*time.Second, cfg.Backoff(0, err))
	assert.Equal(t, 2*time.Second, cfg.Backoff(1, err))
	assert.Equal(t, 4*time.Second, cfg.Backoff(2, err))
	assert.Equal(t, 8*time.Second, cfg.Backoff(3, err))
	assert.Equal(t, 10*time.Second, cfg.Backoff(4, err))

	hinted := NewTransientError(errors.New("slow down"), 429).WithRetryAfter(0)
	assert.Equal(t, time.Duration(0), cfg.Backoff(4, hinted))
}

func TestSleep(t *testing.T) {
	t.Parallel()

	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}

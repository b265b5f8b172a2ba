package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastProfile() Config {
	return Config{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 10 * time.Millisecond}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastProfile(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastProfile(), func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	require.Error(t, err)
	require.Equal(t, fastProfile().MaxRetries+1, calls)
}

func TestDoFatalShortCircuits(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastProfile(), func(ctx context.Context) error {
		calls++
		return Fatal{Err: errors.New("boom")}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoGracefulReturnsDefaultOnExhaustion(t *testing.T) {
	calls := 0
	got := DoGraceful(context.Background(), fastProfile(), "default", func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("down")
	})
	require.Equal(t, "default", got)
	require.Equal(t, fastProfile().MaxRetries+1, calls)
}

func TestDoGracefulReturnsDefaultOnFatal(t *testing.T) {
	got := DoGraceful(context.Background(), fastProfile(), 42, func(ctx context.Context) (int, error) {
		return 0, Fatal{Err: errors.New("fatal")}
	})
	require.Equal(t, 42, got)
}

func TestNonRetryableShortCircuits(t *testing.T) {
	cfg := fastProfile()
	cfg.IsRetryable = func(err error) bool { return false }
	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

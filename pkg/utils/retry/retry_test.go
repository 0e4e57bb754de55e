package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opst/shipfab/pkg/utils/retry"
)

func TestBlocking(t *testing.T) {
	immediate := func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	t.Run("it returns the value when f succeeds", func(t *testing.T) {
		ctx := context.Background()
		got, err := retry.Blocking(ctx, immediate, func() (int, error) {
			return 42, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got != 42 {
			t.Errorf("unmatch: (actual, expected) = (%d, %d)", got, 42)
		}
	})

	t.Run("it retries while f returns ErrRetry", func(t *testing.T) {
		ctx := context.Background()
		attempts := 0
		got, err := retry.Blocking(ctx, immediate, func() (int, error) {
			attempts += 1
			if attempts < 3 {
				return 0, fmt.Errorf("not yet: %w", retry.ErrRetry)
			}
			return attempts, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if got != 3 {
			t.Errorf("unmatch: (actual, expected) = (%d, %d)", got, 3)
		}
	})

	t.Run("it stops on non-retry error", func(t *testing.T) {
		ctx := context.Background()
		expectedErr := errors.New("fatal")
		attempts := 0
		_, err := retry.Blocking(ctx, immediate, func() (int, error) {
			attempts += 1
			return 0, expectedErr
		})
		if !errors.Is(err, expectedErr) {
			t.Errorf("unexpected error: %v", err)
		}
		if attempts != 1 {
			t.Errorf("f is called %d times, expected once", attempts)
		}
	})

	t.Run("it stops when the context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := retry.Blocking(ctx, retry.StaticBackoff(time.Millisecond), func() (int, error) {
			return 0, retry.ErrRetry
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestExponentialBackoff(t *testing.T) {
	t.Run("it grows the interval by ratio", func(t *testing.T) {
		ctx := context.Background()
		b := retry.ExponentialBackoff(time.Millisecond, 2)

		start := time.Now()
		for i := 0; i < 3; i++ {
			if err := b(ctx); err != nil {
				t.Fatal(err)
			}
		}
		elapsed := time.Since(start)

		// waits 1ms + 2ms + 4ms at least
		if elapsed < 7*time.Millisecond {
			t.Errorf("backoff is too short: %s", elapsed)
		}
	})

	t.Run("it returns the cause when the context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		b := retry.ExponentialBackoff(time.Hour, 2)
		if err := b(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestGo(t *testing.T) {
	t.Run("it resolves the promise with the value", func(t *testing.T) {
		ctx := context.Background()
		promise := retry.Go(ctx, retry.StaticBackoff(time.Millisecond), func() (string, error) {
			return "done", nil
		})

		select {
		case r := <-promise:
			if r.Err != nil {
				t.Fatal(r.Err)
			}
			if r.Value != "done" {
				t.Errorf("unmatch: (actual, expected) = (%s, %s)", r.Value, "done")
			}
		case <-time.After(time.Second):
			t.Fatal("promise is not resolved")
		}
	})

	t.Run("it resolves the promise with error from f", func(t *testing.T) {
		ctx := context.Background()
		expectedErr := errors.New("no good")
		promise := retry.Go(ctx, retry.StaticBackoff(time.Millisecond), func() (string, error) {
			return "", expectedErr
		})

		select {
		case r := <-promise:
			if !errors.Is(r.Err, expectedErr) {
				t.Errorf("unexpected error: %v", r.Err)
			}
		case <-time.After(time.Second):
			t.Fatal("promise is not resolved")
		}
	})

	t.Run("it recovers panic from f as error", func(t *testing.T) {
		ctx := context.Background()
		expectedErr := errors.New("boom")
		promise := retry.Go(ctx, retry.StaticBackoff(time.Millisecond), func() (string, error) {
			panic(expectedErr)
		})

		select {
		case r := <-promise:
			if !errors.Is(r.Err, expectedErr) {
				t.Errorf("unexpected error: %v", r.Err)
			}
		case <-time.After(time.Second):
			t.Fatal("promise is not resolved")
		}
	})
}

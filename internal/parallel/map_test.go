package parallel_test

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sheetflow/sheetflow/internal/parallel"
)

func TestMap(t *testing.T) {
	t.Parallel()

	t.Run("preserves input order", func(t *testing.T) {
		t.Parallel()
		in := []int{3, 1, 4, 1, 5, 9, 2, 6}
		out, err := parallel.Map(t.Context(), 4, in, func(_ context.Context, n int) (string, error) {
			return strconv.Itoa(n), nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{"3", "1", "4", "1", "5", "9", "2", "6"}, out)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		out, err := parallel.Map(t.Context(), 4, nil, func(_ context.Context, n int) (int, error) {
			return n, nil
		})
		require.NoError(t, err)
		require.Empty(t, out)
	})

	t.Run("error is reported and results dropped", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		out, err := parallel.Map(t.Context(), 1, []int{1, 2, 3, 4}, func(ctx context.Context, n int) (int, error) {
			if n == 2 {
				return 0, boom
			}
			return n, nil
		})
		require.ErrorIs(t, err, boom)
		require.Nil(t, out)
	})

	t.Run("later work observes cancellation", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		var sawCancel atomic.Bool
		_, err := parallel.Map(t.Context(), 1, []int{1, 2, 3}, func(ctx context.Context, n int) (int, error) {
			if n == 2 {
				return 0, boom
			}
			if n == 3 && ctx.Err() != nil {
				sawCancel.Store(true)
			}
			return n, nil
		})
		require.ErrorIs(t, err, boom)
		require.True(t, sawCancel.Load())
	})

	t.Run("limit below one still runs", func(t *testing.T) {
		t.Parallel()
		out, err := parallel.Map(t.Context(), 0, []int{1, 2}, func(_ context.Context, n int) (int, error) {
			return n * 2, nil
		})
		require.NoError(t, err)
		require.Equal(t, []int{2, 4}, out)
	})
}

package parallel

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	cfg := WithWorkers(4)

	var counter int64
	seen := make([]int32, 1000)
	err := For(len(seen), func(_, i int) error {
		atomic.AddInt64(&counter, 1)
		atomic.AddInt32(&seen[i], 1)
		return nil
	}, cfg)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), counter)
	for i, n := range seen {
		assert.Equal(t, int32(1), n, "item %d", i)
	}
}

func TestFor_WorkerAssignmentIsStable(t *testing.T) {
	cfg := WithWorkers(3)
	run := func() []int {
		owner := make([]int, 10)
		require.NoError(t, For(len(owner), func(w, i int) error {
			owner[i] = w
			return nil
		}, cfg))
		return owner
	}
	first := run()
	assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 1, 1, 2, 2}, first)
	assert.Equal(t, first, run())
	assert.Equal(t, 3, cfg.Workers(10))
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var order []int
	err := For(5, func(w, i int) error {
		assert.Equal(t, 0, w)
		order = append(order, i)
		return nil
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFor_Error(t *testing.T) {
	boom := errors.New("boom")
	for _, cfg := range []Config{WithWorkers(1), WithWorkers(4)} {
		err := For(100, func(_, i int) error {
			if i == 42 {
				return boom
			}
			return nil
		}, cfg)
		assert.ErrorIs(t, err, boom)
	}
}

func TestFor_Empty(t *testing.T) {
	called := false
	require.NoError(t, For(0, func(_, _ int) error { called = true; return nil }, DefaultConfig()))
	assert.False(t, called)
	assert.Equal(t, 0, DefaultConfig().Workers(0))
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			_ = For(n, func(_, i int) error {
				atomic.AddInt64(&sum, int64(i))
				return nil
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for i := 0; i < b.N; i++ {
			var sum int64
			_ = For(n, func(_, i int) error {
				atomic.AddInt64(&sum, int64(i))
				return nil
			}, cfgSeq)
		}
	})
}

// Package parallel fans independent work items out to a fixed set of
// workers. Items are assigned to workers in contiguous chunks, so the
// worker that handles an item depends only on the item count and the
// configuration.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per worker.
}

// DefaultConfig returns one worker per CPU. Samples are expensive, so a
// worker may own a single item.
func DefaultConfig() Config {
	return WithWorkers(runtime.NumCPU())
}

// WithWorkers returns a config for n workers; n <= 1 runs sequentially.
func WithWorkers(n int) Config {
	return Config{
		Enabled:      n > 1,
		NumWorkers:   max(n, 1),
		MinChunkSize: 1,
	}
}

// chunk returns the number of items per worker for n items.
func (c Config) chunk(n int) int {
	if !c.Enabled || c.NumWorkers <= 1 {
		return n
	}
	return max((n+c.NumWorkers-1)/c.NumWorkers, c.MinChunkSize, 1)
}

// Workers returns how many workers For starts for n items.
func (c Config) Workers(n int) int {
	if n == 0 {
		return 0
	}
	size := c.chunk(n)
	return (n + size - 1) / size
}

// For calls f(worker, i) for every i in [0, n) and returns the first error.
// A worker stops at its first error; other workers finish their chunks.
func For(n int, f func(worker, i int) error, cfg Config) error {
	size := cfg.chunk(n)
	if cfg.Workers(n) <= 1 {
		for i := 0; i < n; i++ {
			if err := f(0, i); err != nil {
				return err
			}
		}
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for w, start := 0, 0; start < n; w, start = w+1, start+size {
		end := min(start+size, n)
		wg.Add(1)
		go func(w, s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				if err := f(w, i); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
			}
		}(w, start, end)
	}
	wg.Wait()
	return firstErr
}

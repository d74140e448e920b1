package search

import (
	"context"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NethermindEth/juno/core/felt"

	"github.com/ConsumrBuzzy/stark-account-recovery/internal/derive"
	"github.com/ConsumrBuzzy/stark-account-recovery/internal/logger"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/candidate"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/types"
)

// Options tunes a search run. Zero values pick sensible defaults.
type Options struct {
	Workers     int
	Logger      *logger.Logger
	LogInterval time.Duration
	OutFile     string             // recipe destination; empty skips persistence
	OnProgress  func(tried uint64) // optional observability hook, ticker cadence
}

// Engine drives a candidate space through the address derivation and compares
// against one target. First match wins, where "first" means the smallest
// global enumeration index across all workers, so results are deterministic
// regardless of worker count.
type Engine struct {
	space    *candidate.Space
	target   *felt.Felt
	deployer *felt.Felt
	opts     Options

	tried   atomic.Uint64
	bestIdx atomic.Uint64 // MaxUint64 until a match is recorded
	mu      sync.Mutex
	best    *types.Candidate
}

// NewEngine creates a search engine for one target address.
func NewEngine(space *candidate.Space, target *felt.Felt, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = 5 * time.Second
	}
	e := &Engine{
		space:    space,
		target:   target,
		deployer: derive.Deployer(),
		opts:     opts,
	}
	e.bestIdx.Store(math.MaxUint64)
	return e
}

// Search enumerates the space until a match or exhaustion. Exhaustion is a
// normal outcome, not an error: Outcome.Found is false and Tried carries the
// full candidate count. Cancellation is cooperative, checked between
// candidates, and surfaces ctx.Err().
//
// On a match the winning recipe is persisted before Search returns, so a
// crash after finding does not lose the result.
func (e *Engine) Search(ctx context.Context) (types.Outcome, error) {
	start := time.Now()

	parts := make(chan int)
	go func() {
		defer close(parts)
		for p := 0; p < e.space.Partitions(); p++ {
			select {
			case parts <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx, parts)
		}()
	}

	progressDone := make(chan struct{})
	go e.progressLoop(start, progressDone)

	wg.Wait()
	close(progressDone)

	outcome := types.Outcome{
		Tried:    e.tried.Load(),
		Duration: time.Since(start),
	}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	e.mu.Lock()
	best := e.best
	e.mu.Unlock()
	if best == nil {
		return outcome, nil
	}

	outcome.Found = true
	outcome.Recipe = &types.Recipe{
		ClassHash:     best.ClassHash,
		Salt:          best.Salt,
		Calldata:      best.Calldata,
		TargetAddress: e.target,
	}
	if e.opts.OutFile != "" {
		if err := outcome.Recipe.WriteFile(e.opts.OutFile); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// worker consumes partitions and scans each in order. Within a partition
// indices increase monotonically, so once the next index exceeds the best
// match recorded anywhere, the rest of the partition cannot win.
func (e *Engine) worker(ctx context.Context, parts <-chan int) {
	for p := range parts {
		cur := e.space.Partition(p)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			cand, ok := cur.Next()
			if !ok {
				break
			}
			if cand.Index > e.bestIdx.Load() {
				break
			}

			addr := derive.ContractAddress(e.deployer, cand.ClassHash, cand.Salt, cand.Calldata)
			e.tried.Add(1)
			if addr.Equal(e.target) {
				e.recordMatch(cand)
				break
			}
		}
	}
}

// recordMatch keeps the candidate with the smallest global index and
// publishes that index so other workers can prune.
func (e *Engine) recordMatch(cand types.Candidate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.best == nil || cand.Index < e.best.Index {
		c := cand
		e.best = &c
		e.bestIdx.Store(cand.Index)
	}
}

// progressLoop reports attempt counts and rate at the configured cadence.
func (e *Engine) progressLoop(start time.Time, done <-chan struct{}) {
	if e.opts.Logger == nil && e.opts.OnProgress == nil {
		return
	}
	ticker := time.NewTicker(e.opts.LogInterval)
	defer ticker.Stop()
	total := e.space.Size()
	for {
		select {
		case <-ticker.C:
			tried := e.tried.Load()
			if e.opts.OnProgress != nil {
				e.opts.OnProgress(tried)
			}
			if e.opts.Logger != nil {
				elapsed := time.Since(start)
				rate := 0.0
				if elapsed.Seconds() > 0 {
					rate = float64(tried) / elapsed.Seconds()
				}
				e.opts.Logger.Printf("Progress: %d/%d candidates, %.2f candidates/sec",
					tried, total, rate)
			}
		case <-done:
			return
		}
	}
}

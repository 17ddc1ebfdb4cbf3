package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const sweepConcurrency = 4

// Sweeper periodically finalizes auctions whose end time has passed.
// One auction's failure never blocks the rest of the batch; it is
// logged and retried on the next tick.
type Sweeper struct {
	engine     *Engine
	interval   time.Duration
	batchLimit int
	shutdown   chan struct{}
	wg         sync.WaitGroup
	once       sync.Once
}

func NewSweeper(engine *Engine, interval time.Duration, batchLimit int) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &Sweeper{
		engine:     engine,
		interval:   interval,
		batchLimit: batchLimit,
		shutdown:   make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := s.RunOnce(ctx); err != nil {
					slog.Error("Finalization sweep failed",
						slog.String("error", err.Error()))
				}
				cancel()
			case <-s.shutdown:
				return
			}
		}
	}()
}

// RunOnce finalizes every due auction. Also invoked once at startup to
// recover auctions that ended while the service was down.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	due, err := s.engine.store.DueForFinalization(ctx, s.engine.clock.Now(), s.batchLimit)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, a := range due {
		auctionID := a.ID
		g.Go(func() error {
			if err := s.engine.FinalizeIfEnded(gctx, auctionID); err != nil {
				slog.Error("Failed to finalize auction in sweep",
					slog.Int64("auction_id", auctionID),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown stops the sweep loop and waits for an in-flight sweep to
// complete.
func (s *Sweeper) Shutdown() {
	s.once.Do(func() {
		close(s.shutdown)
	})
	s.wg.Wait()
}

package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestNotifier_ShutdownDrainsQueue(t *testing.T) {
	sink := &captureSink{}
	n := NewNotifier(64, sink)

	for i := 0; i < 10; i++ {
		n.Publish(Event{Type: EventOutbid, UserID: int64(i), AuctionID: 1, Amount: 100})
	}
	n.Shutdown()

	check.Equal(t, 10, len(sink.byType(EventOutbid)))
}

func TestNotifier_PublishDuringShutdownDoesNotPanic(t *testing.T) {
	sink := &captureSink{}
	n := NewNotifier(4, sink)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				n.Publish(Event{Type: EventOutbid, AuctionID: 1, Amount: int64(j)})
			}
		}()
	}
	n.Shutdown()
	wg.Wait()

	// Publishing after shutdown is a silent drop, and a second
	// shutdown is a no-op.
	n.Publish(Event{Type: EventOutbid, AuctionID: 1})
	n.Shutdown()
}

func TestEngineShutdown_WaitsForDomainWorkers(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a := env.liveAuction(1, 100, 10)

	_, err := env.engine.PlaceBid(ctx, a.ID, 2, 100)
	check.Nil(t, err)

	env.engine.Shutdown()

	// Every worker has exited and deregistered itself.
	count := 0
	env.engine.domains.Range(func(_, _ any) bool {
		count++
		return true
	})
	check.Equal(t, 0, count)

	// Submissions after shutdown fail fast instead of queueing.
	_, err = env.engine.PlaceBid(ctx, a.ID, 3, 200)
	check.Equal(t, CodeConcurrentConflict, ErrCode(err))
}

package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventOutbid        EventType = "outbid"
	EventWonAuction    EventType = "won_auction"
	EventPacketStarted EventType = "packet_started"
)

// Event is one best-effort notification. UserID is the recipient; zero
// means watchers of the auction (packet starts).
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    int64     `json:"user_id,omitempty"`
	AuctionID int64     `json:"auction_id"`
	Amount    int64     `json:"amount,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives notification events. Delivery failures are logged and
// dropped; they never surface to the bidder.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// LogSink writes events to the structured log. The default sink; real
// deployments add push/DM sinks next to it.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, ev Event) error {
	slog.Info("Notification",
		slog.String("event_id", ev.ID),
		slog.String("type", string(ev.Type)),
		slog.Int64("user_id", ev.UserID),
		slog.Int64("auction_id", ev.AuctionID),
		slog.Int64("amount", ev.Amount))
	return nil
}

// Notifier fans events out to sinks from a buffered queue. Publish
// never blocks the bidding path: when the queue is full or the notifier
// has shut down the event is dropped. The queue channel itself is never
// closed, so a Publish racing Shutdown can never panic.
type Notifier struct {
	ch    chan Event
	done  chan struct{}
	sinks []Sink
	wg    sync.WaitGroup
	once  sync.Once
}

func NewNotifier(buffer int, sinks ...Sink) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	if len(sinks) == 0 {
		sinks = []Sink{LogSink{}}
	}
	n := &Notifier{
		ch:    make(chan Event, buffer),
		done:  make(chan struct{}),
		sinks: sinks,
	}
	n.wg.Add(1)
	go n.dispatch()
	return n
}

func (n *Notifier) Publish(ev Event) {
	ev.ID = uuid.NewString()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case <-n.done:
		return
	case n.ch <- ev:
	default:
		slog.Warn("Notification queue full, dropping event",
			slog.String("type", string(ev.Type)),
			slog.Int64("auction_id", ev.AuctionID))
	}
}

func (n *Notifier) dispatch() {
	defer n.wg.Done()
	for {
		select {
		case ev := <-n.ch:
			n.deliver(ev)
		case <-n.done:
			// Flush what was queued before shutdown.
			for {
				select {
				case ev := <-n.ch:
					n.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(ev Event) {
	for _, sink := range n.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sink.Deliver(ctx, ev); err != nil {
			slog.Error("Failed to deliver notification",
				slog.String("event_id", ev.ID),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()))
		}
		cancel()
	}
}

// Shutdown stops accepting events, drains the queue and waits for the
// dispatcher to finish.
func (n *Notifier) Shutdown() {
	n.once.Do(func() {
		close(n.done)
	})
	n.wg.Wait()
}

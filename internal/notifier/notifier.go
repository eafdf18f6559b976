// Package notifier turns confirmed inserts into live deliveries.
//
// OnInserted is called by the scheduler only after the store has committed a
// new row. It publishes straight to the in-process fan-out, then offers the
// item to the optional external relay.
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicstreams/internal/clock/system"
	"github.com/JakeFAU/topicstreams/internal/news"
	"github.com/JakeFAU/topicstreams/internal/relay"
)

// Publisher is the fan-out side of the notifier.
type Publisher interface {
	Publish(topic string, item news.Item) int
}

// Notifier bridges committed inserts to subscribers.
type Notifier struct {
	fanout Publisher
	relay  relay.Emitter
	clock  news.Clock
	logger *zap.Logger
}

// New builds a Notifier. relay may be nil.
func New(fanout Publisher, emitter relay.Emitter, clock news.Clock, logger *zap.Logger) *Notifier {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{fanout: fanout, relay: emitter, clock: clock, logger: logger}
}

// OnInserted delivers item to the topic's live subscribers and the relay.
func (n *Notifier) OnInserted(_ context.Context, item news.Item) {
	delivered := n.fanout.Publish(item.Topic, item)
	if n.relay != nil {
		n.relay.Emit(relay.Event{Item: item, InsertedAt: n.clock.Now()})
	}
	n.logger.Debug("item notified",
		zap.String("topic", item.Topic),
		zap.Int64("id", item.ID),
		zap.Int("delivered", delivered),
	)
}

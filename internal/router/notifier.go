// Package router carries block-batch events from the ingestion side to the
// reactive provisioning path. Ingestion publishes one event per ingested
// batch of blocks (statement-level, not per row); subscribers receive the
// batch's highest height and decide whether new partitions are needed.
package router

import (
	"sync"

	"github.com/google/uuid"
)

// BatchEvent announces that a batch of blocks has been ingested.
type BatchEvent struct {
	// MaxHeight is the highest block height in the ingested batch.
	MaxHeight int64

	// Rows is the number of ledger rows the batch produced, when known.
	Rows int64

	// Timestamp is when the batch commit was observed, in Unix nanoseconds.
	Timestamp int64
}

// Notifier is an in-process pub/sub bus for batch events.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a new notifier. bufferSize bounds each subscriber's
// channel; a full channel drops events rather than blocking the publisher.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{
		bufferSize: bufferSize,
	}
}

// Publish sends an event to all subscribers.
// Non-blocking: if a subscriber's channel is full, the event is dropped.
// Dropping is safe for provisioning because a later batch carries a higher
// height and triggers the same check.
func (n *Notifier) Publish(ev BatchEvent) {
	n.subscribers.Range(func(key, value interface{}) bool {
		sub := value.(*Subscriber)
		select {
		case sub.Ch <- ev:
		default:
			// Channel full - drop event, do NOT block the ingest path
		}
		return true
	})
}

// Subscribe adds a new subscriber with the given ID.
func (n *Notifier) Subscribe(id string) *Subscriber {
	sub := &Subscriber{
		ID: id,
		Ch: make(chan BatchEvent, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(subID string) {
	if value, ok := n.subscribers.LoadAndDelete(subID); ok {
		sub := value.(*Subscriber)
		close(sub.Ch)
	}
}

// Subscriber represents one consumer of batch events.
type Subscriber struct {
	ID string
	Ch chan BatchEvent
}

// generateSubscriberID generates a unique subscriber ID. Random rather than
// time-derived: the provisioning hook and the migration engine can both
// auto-subscribe within the same second.
func generateSubscriberID() string {
	return "sub_" + uuid.NewString()
}

// SubscribeAutoID adds a subscriber with an auto-generated ID and returns
// its channel.
func (n *Notifier) SubscribeAutoID() *Subscriber {
	return n.Subscribe(generateSubscriberID())
}

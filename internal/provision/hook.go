package provision

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ledgerpart/ledgerpart/internal/router"
)

// Hook is the reactive provisioning path: a post-commit subscription on the
// block-batch stream. Each ingested batch triggers one lookahead check
// against the batch's highest height.
//
// The migration engine detaches the hook across cutover and re-attaches it
// to the renamed live table.
type Hook struct {
	prov     *Provisioner
	notifier *router.Notifier

	mu      sync.Mutex
	sub     *router.Subscriber
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHook creates a hook wired to the given provisioner and bus.
func NewHook(prov *Provisioner, notifier *router.Notifier) *Hook {
	return &Hook{
		prov:     prov,
		notifier: notifier,
	}
}

// Attach subscribes to the batch stream and starts consuming events. It
// runs until the context is cancelled or Detach is called.
func (h *Hook) Attach(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return fmt.Errorf("provision: hook is already attached")
	}

	ctx, cancel := context.WithCancel(ctx)
	h.sub = h.notifier.SubscribeAutoID()
	h.cancel = cancel
	h.running = true
	h.done = make(chan struct{})

	go h.run(ctx, h.sub)
	return nil
}

// Detach unsubscribes from the batch stream and waits for the consumer to
// stop. Safe to call when not attached.
func (h *Hook) Detach() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}

	h.notifier.Unsubscribe(h.sub.ID)
	h.cancel()
	<-h.done
	h.running = false
}

func (h *Hook) run(ctx context.Context, sub *router.Subscriber) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch:
			if !ok {
				return
			}
			if err := h.OnBatch(ctx, ev); err != nil {
				// Surfaced loudly: a failed provisioning attempt means the
				// next range may be missing when rows for it arrive.
				log.Printf("provision: hook failed for batch height %d: %v", ev.MaxHeight, err)
			}
		}
	}
}

// OnBatch runs one lookahead check for an ingested batch. In-process
// ingesters may call this synchronously inside their statement boundary
// instead of going through the bus.
func (h *Hook) OnBatch(ctx context.Context, ev router.BatchEvent) error {
	return h.prov.EnsureLookahead(ctx, ev.MaxHeight)
}

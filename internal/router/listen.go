package router

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultChannel is the NOTIFY channel ingestion uses to announce batches.
// The payload is the batch's highest block height in decimal.
const DefaultChannel = "ledger_blocks"

// Listener bridges Postgres LISTEN/NOTIFY into the in-process bus, letting
// an out-of-process ingester drive the reactive provisioning path. One
// NOTIFY per ingested batch, never per row.
type Listener struct {
	pool     *pgxpool.Pool
	channel  string
	notifier *Notifier
}

// NewListener creates a listener on the given channel.
func NewListener(pool *pgxpool.Pool, channel string, notifier *Notifier) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Listener{
		pool:     pool,
		channel:  channel,
		notifier: notifier,
	}
}

// Run listens until the context is cancelled, republishing each NOTIFY as a
// BatchEvent. It holds one dedicated connection from the pool for the
// duration.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		height, perr := strconv.ParseInt(notification.Payload, 10, 64)
		if perr != nil {
			log.Printf("router: ignoring malformed batch payload %q: %v", notification.Payload, perr)
			continue
		}

		l.notifier.Publish(BatchEvent{
			MaxHeight: height,
			Timestamp: time.Now().UnixNano(),
		})
	}
}

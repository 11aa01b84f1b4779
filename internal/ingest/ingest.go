// Package ingest implements the Ingest Adapter: a Redis Pub/Sub subscriber
// that feeds parsed candles into the Aggregator and pings the Broadcaster to
// pick them up. Reconnects run through errs.Retry with exponential backoff.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketfeed/internal/candle"
	"marketfeed/internal/errs"
	"marketfeed/internal/obslog"

	"github.com/redis/go-redis/v9"
)

// channelPrefix/channelSuffix match the upstream channel naming
// "candles:{symbol}:1m".
const (
	channelPrefix = "candles:"
	channelSuffix = ":1m"
)

func channelFor(symbol string) string { return channelPrefix + symbol + channelSuffix }

// symbolFromChannel extracts the symbol from a subscribed channel name. It
// is the inverse of channelFor.
func symbolFromChannel(channel string) (string, bool) {
	if len(channel) <= len(channelPrefix)+len(channelSuffix) {
		return "", false
	}
	if channel[:len(channelPrefix)] != channelPrefix {
		return "", false
	}
	tail := channel[len(channelPrefix):]
	if tail[len(tail)-len(channelSuffix):] != channelSuffix {
		return "", false
	}
	return tail[:len(tail)-len(channelSuffix)], true
}

// AggregatorSink is the Aggregator's ingest surface, as seen by the Ingest
// Adapter.
type AggregatorSink interface {
	Ingest(symbol string, c candle.Candle) error
}

// BroadcasterSink is the Broadcaster's refresh surface, as seen by the
// Ingest Adapter.
type BroadcasterSink interface {
	Refresh(symbol string)
}

// PersistSink is the History Adapter's write surface, as seen by the Ingest
// Adapter. It is optional: an Adapter built without one still ingests and
// broadcasts, it just does not durably persist incoming bars.
type PersistSink interface {
	Store(ctx context.Context, symbol string, interval candle.Interval, c candle.Candle) error
}

// Adapter subscribes to the upstream channel for every tracked symbol and
// drives Aggregator.Ingest + Broadcaster.Refresh for each message.
type Adapter struct {
	client  *redis.Client
	agg     AggregatorSink
	bcast   BroadcasterSink
	store   PersistSink
	log     *obslog.Logger
	backoff errs.BackoffPolicy

	symbols []string
}

// New builds an Adapter. symbols is the initial static set of tracked
// symbols; the control plane's AddSymbol/RemoveSymbol only affect the
// session allow-list, not this adapter's upstream subscriptions, since
// resubscribing mid-flight is out of scope for the fixed symbol universe
// this deployment targets. store may be nil, in which case incoming bars
// are ingested and broadcast but not persisted.
func New(addr, password string, db int, symbols []string, agg AggregatorSink, bcast BroadcasterSink, store PersistSink, log *obslog.Logger) *Adapter {
	return &Adapter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		agg:     agg,
		bcast:   bcast,
		store:   store,
		log:     log,
		backoff: errs.DefaultBackoffPolicy(),
		symbols: symbols,
	}
}

// Close releases the underlying Redis client.
func (a *Adapter) Close() error { return a.client.Close() }

// Run subscribes to every tracked symbol's channel and processes messages
// until ctx is canceled, reconnecting with exponential backoff and jitter
// on transport failure and resubscribing to every channel afterward.
func (a *Adapter) Run(ctx context.Context) {
	done := ctx.Done()
	_ = errs.Retry(a.backoff, done, sleepUnlessCanceled(ctx), func(attempt int) error {
		if attempt > 0 {
			a.log.Warning("ingest: reconnect attempt %d", attempt+1)
		}
		err := a.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			a.log.Error("ingest: subscription loop ended: %v", err)
		}
		return err
	})
}

func sleepUnlessCanceled(ctx context.Context) func(time.Duration) {
	return func(d time.Duration) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
}

func (a *Adapter) consume(ctx context.Context) error {
	channels := make([]string, len(a.symbols))
	for i, sym := range a.symbols {
		channels[i] = channelFor(sym)
	}

	sub := a.client.Subscribe(ctx, channels...)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	a.log.Info("ingest: subscribed to %d channel(s)", len(channels))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			a.handle(msg)
		}
	}
}

func (a *Adapter) handle(msg *redis.Message) {
	symbol, ok := symbolFromChannel(msg.Channel)
	if !ok {
		a.log.Warning("ingest: unrecognized channel %q", msg.Channel)
		return
	}

	var bar candle.Candle
	if err := json.Unmarshal([]byte(msg.Payload), &bar); err != nil {
		a.log.Warning("ingest: dropping unparsable message on %s: %v", msg.Channel, err)
		return
	}
	if err := bar.Validate(); err != nil {
		a.log.Warning("ingest: dropping invalid candle on %s: %v", msg.Channel, err)
		return
	}

	if err := a.agg.Ingest(symbol, bar); err != nil {
		a.log.Warning("ingest: %v", err)
		return
	}
	a.bcast.Refresh(symbol)

	if a.store != nil {
		if err := a.store.Store(context.Background(), symbol, candle.Interval1m, bar); err != nil {
			a.log.Warning("ingest: failed to persist %s bar: %v", symbol, err)
		}
	}
}

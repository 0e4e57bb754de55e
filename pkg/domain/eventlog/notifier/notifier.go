package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/loop"
)

var ErrSinkFailed = errors.New("sink failed")

// Stats counts what became of the events a Run has taken off the queue.
type Stats struct {
	// events every sink acknowledged.
	Delivered uint64

	// events at least one sink refused, or which could not be encoded.
	Failed uint64
}

// Notifier fans payloads out to external sinks, fire-and-forget.
//
// Publish enqueues and returns at once; a worker (Run) POSTs queued payloads
// to every sink, one event at a time. When the queue is full the payload is
// dropped and counted instead. Losing a notification never stalls the caller,
// and a slow or dead sink only ever costs queue room.
//
// The payload type T is sent as JSON, one POST per sink per event.
type Notifier[T any] struct {
	queue   chan T
	dropped atomic.Uint64
	sinks   []*url.URL
	client  *http.Client
}

// New builds a Notifier from config.
//
// # Returns
//
// - *Notifier[T]: queue sized conf.Buffer(), targets conf.Sinks().
//
// - error: when a sink URL does not parse.
func New[T any](conf *oconf.NotifierConfig) (*Notifier[T], error) {
	sinks := make([]*url.URL, 0, len(conf.Sinks()))
	for _, s := range conf.Sinks() {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("malformed sink url %s: %w", s, err)
		}
		sinks = append(sinks, u)
	}
	return &Notifier[T]{
		queue:  make(chan T, conf.Buffer()),
		sinks:  sinks,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Publish enqueues ev for delivery and returns at once, whatever the sinks
// are doing. When the queue is full ev is dropped and counted.
func (n *Notifier[T]) Publish(ev T) {
	select {
	case n.queue <- ev:
	default:
		n.dropped.Add(1)
	}
}

// Dropped counts events lost to a full queue so far.
func (n *Notifier[T]) Dropped() uint64 {
	return n.dropped.Load()
}

// Run delivers queued events until ctx is done.
//
// Each event goes to every sink. A refusing sink is logged and counted,
// never retried. Events still queued when ctx ends are lost; delivery is
// best-effort by contract.
//
// Run is meant to run once, in its own goroutine, for the life of the
// process.
//
// # Returns
//
// - Stats: what was delivered and what was not, up to the stop.
//
// - error: ctx.Err().
func (n *Notifier[T]) Run(ctx context.Context, logger *log.Logger) (Stats, error) {
	return loop.Start(ctx, Stats{}, func(ctx context.Context, stats Stats) (Stats, loop.Next) {
		var ev T
		select {
		case <-ctx.Done():
			return stats, loop.Break(ctx.Err())
		case ev = <-n.queue:
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			// no sink can take what does not encode. drop it.
			logger.Printf("dropping an event: %s", err)
			stats.Failed += 1
			return stats, loop.Continue(0)
		}

		delivered := true
		for _, sink := range n.sinks {
			if err := n.send(ctx, sink.String(), payload); err != nil {
				logger.Printf("sink did not take the event: %s", err)
				delivered = false
			}
		}
		if delivered {
			stats.Delivered += 1
		} else {
			stats.Failed += 1
		}
		return stats, loop.Continue(0)
	})
}

func (n *Notifier[T]) send(ctx context.Context, sink string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sink, bytes.NewReader(payload))
	if err != nil {
		return errors.Join(err, ErrSinkFailed)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Join(err, ErrSinkFailed)
	}
	defer resp.Body.Close()

	if 200 <= resp.StatusCode && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf(
		"%w (%s %d): %s",
		ErrSinkFailed, sink, resp.StatusCode, string(body),
	)
}

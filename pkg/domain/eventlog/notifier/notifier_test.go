package notifier_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain/eventlog/notifier"
)

type Value struct {
	Content string `json:"content"`
}

// records every JSON body a sink receives, in order.
type sinkRecorder struct {
	mu     sync.Mutex
	status int
	got    []Value
}

func (s *sinkRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ctype := r.Header.Get("Content-Type"); ctype != "application/json" {
			t.Errorf("unexpected content type: %s", ctype)
		}

		var v Value
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			t.Errorf("unexpected body: %v", err)
		}

		s.mu.Lock()
		s.got = append(s.got, v)
		s.mu.Unlock()

		w.WriteHeader(s.status)
	}
}

func (s *sinkRecorder) received() []Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Value{}, s.got...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func config(buffer int, sinks ...string) *oconf.NotifierConfig {
	return oconf.TrySeal(&oconf.NotifierConfigMarshall{
		Sinks:  sinks,
		Buffer: buffer,
	})
}

type conclusion struct {
	stats notifier.Stats
	err   error
}

func TestNotifier(t *testing.T) {
	logger := log.New(io.Discard, "", 0)

	t.Run("it delivers published events to every sink, in order", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sink1 := &sinkRecorder{status: http.StatusOK}
		server1 := httptest.NewServer(sink1.handler(t))
		defer server1.Close()

		sink2 := &sinkRecorder{status: http.StatusAccepted}
		server2 := httptest.NewServer(sink2.handler(t))
		defer server2.Close()

		testee, err := notifier.New[Value](config(8, server1.URL, server2.URL))
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}

		done := make(chan conclusion, 1)
		go func() {
			stats, err := testee.Run(ctx, logger)
			done <- conclusion{stats: stats, err: err}
		}()

		published := []Value{
			{Content: "received"}, {Content: "building"}, {Content: "built"},
		}
		for _, ev := range published {
			testee.Publish(ev)
		}

		waitFor(t, func() bool {
			return len(sink1.received()) == len(published) &&
				len(sink2.received()) == len(published)
		})
		// let the last round trip settle before stopping the worker.
		time.Sleep(50 * time.Millisecond)
		cancel()

		res := <-done
		if !errors.Is(res.err, context.Canceled) {
			t.Errorf("unexpected error: %+v", res.err)
		}
		for name, got := range map[string][]Value{
			"sink1": sink1.received(), "sink2": sink2.received(),
		} {
			for i, ev := range published {
				if got[i] != ev {
					t.Errorf(
						"%s: (actual, expected) = (%v, %v)", name, got[i], ev,
					)
				}
			}
		}
		if res.stats.Delivered != 3 || res.stats.Failed != 0 {
			t.Errorf("unexpected stats: %+v", res.stats)
		}
		if testee.Dropped() != 0 {
			t.Errorf("unexpected drops: %d", testee.Dropped())
		}
	})

	t.Run("it drops and counts when the queue is full", func(t *testing.T) {
		// no worker runs, so the queue only fills.
		testee, err := notifier.New[Value](config(1, "http://sink.invalid"))
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}

		for i := 0; i < 3; i++ {
			testee.Publish(Value{Content: "burst"})
		}

		if testee.Dropped() != 2 {
			t.Errorf("unexpected drops: (actual, expected) = (%d, 2)", testee.Dropped())
		}
	})

	t.Run("it keeps going when a sink refuses", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		bad := &sinkRecorder{status: http.StatusInternalServerError}
		badServer := httptest.NewServer(bad.handler(t))
		defer badServer.Close()

		good := &sinkRecorder{status: http.StatusOK}
		goodServer := httptest.NewServer(good.handler(t))
		defer goodServer.Close()

		testee, err := notifier.New[Value](config(8, badServer.URL, goodServer.URL))
		if err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}

		done := make(chan conclusion, 1)
		go func() {
			stats, err := testee.Run(ctx, logger)
			done <- conclusion{stats: stats, err: err}
		}()

		testee.Publish(Value{Content: "deployed"})

		waitFor(t, func() bool {
			return len(bad.received()) == 1 && len(good.received()) == 1
		})
		time.Sleep(50 * time.Millisecond)
		cancel()

		res := <-done
		// the good sink got the event, the refusal only counts.
		if got := good.received(); len(got) != 1 || got[0].Content != "deployed" {
			t.Errorf("unexpected deliveries: %+v", got)
		}
		if res.stats.Delivered != 0 || res.stats.Failed != 1 {
			t.Errorf("unexpected stats: %+v", res.stats)
		}
	})

	t.Run("it refuses a malformed sink url", func(t *testing.T) {
		if _, err := notifier.New[Value](config(8, "://not-a-url")); err == nil {
			t.Error("an error is expected")
		}
	})
}

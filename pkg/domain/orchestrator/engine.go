package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/domain/build/coordinator"
	kdeployment "github.com/opst/shipfab/pkg/domain/deployment"
	kerrors "github.com/opst/shipfab/pkg/domain/errors"
	keventlog "github.com/opst/shipfab/pkg/domain/eventlog"
	"github.com/opst/shipfab/pkg/domain/health/verifier"
	kmanifest "github.com/opst/shipfab/pkg/domain/manifest"
	"github.com/opst/shipfab/pkg/domain/manifest/updater"
	"github.com/opst/shipfab/pkg/domain/rollback/manager"
	"github.com/opst/shipfab/pkg/domain/sync/controller"
	"github.com/opst/shipfab/pkg/loop"
)

// Sink takes note of transition events, fire-and-forget.
// Implementations must not block; losing an event is acceptable, waiting is not.
type Sink interface {
	Publish(ev domain.TransitionEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(domain.TransitionEvent)

func (f SinkFunc) Publish(ev domain.TransitionEvent) {
	f(ev)
}

// Engine runs the deployment pipeline.
//
// Submissions pass a sliding-window dedupe and a bounded queue. A dispatcher
// registers one attempt per distinct revision (duplicates coalesce into the
// in-flight attempt) and walks each attempt through build, manifest update,
// sync and verification in its own goroutine, rolling back on failure.
//
// Attempts are ordered by their manifest entry: when an attempt reaches the
// cluster-facing stages while an older one is still driving, the older one is
// canceled and concludes Aborted. The cluster is never driven backwards.
type Engine interface {
	// Submit takes a normalized push into the pipeline and returns at once.
	//
	// # Returns
	//
	// - error:
	//
	// kerrors.ErrInvalidRequest when req lacks its repository or revision.
	//
	// domain.ErrDeploymentCoalesced when the same push arrived within the
	// dedupe window already. Nothing new is queued; the earlier submission
	// stands for this one.
	//
	// kerrors.ErrBackpressure when the queue is full. Nothing was recorded;
	// the sender may retry later.
	Submit(req domain.DeploymentRequest) error

	// Run dispatches queued requests until ctx is done, then waits for the
	// attempts in flight to stop.
	//
	// # Returns
	//
	// - error: ctx.Err().
	Run(ctx context.Context) error
}

type engine struct {
	logger      *log.Logger
	deployments kdeployment.Interface
	manifests   kmanifest.Interface
	events      keventlog.Interface
	builds      coordinator.Coordinator
	updater     updater.Updater
	syncs       controller.Controller
	health      verifier.Verifier
	rollbacks   manager.Manager
	sink        Sink

	queue  chan domain.DeploymentRequest
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time

	// in-flight cluster-facing drives, keyed by manifest sequence.
	acting map[int64]context.CancelFunc
}

func New(
	logger *log.Logger,
	deployments kdeployment.Interface,
	manifests kmanifest.Interface,
	events keventlog.Interface,
	builds coordinator.Coordinator,
	update updater.Updater,
	syncs controller.Controller,
	health verifier.Verifier,
	rollbacks manager.Manager,
	sink Sink,
	queue *oconf.QueueConfig,
) Engine {
	return &engine{
		logger:      logger,
		deployments: deployments,
		manifests:   manifests,
		events:      events,
		builds:      builds,
		updater:     update,
		syncs:       syncs,
		health:      health,
		rollbacks:   rollbacks,
		sink:        sink,
		queue:       make(chan domain.DeploymentRequest, queue.Capacity()),
		window:      queue.DedupeWindow(),
		seen:        map[string]time.Time{},
		acting:      map[int64]context.CancelFunc{},
	}
}

func (e *engine) Submit(req domain.DeploymentRequest) error {
	if req.Repository == "" || req.RevisionID == "" {
		return fmt.Errorf(
			"%w: a push needs its repository and revision", kerrors.ErrInvalidRequest,
		)
	}

	key := req.DedupeKey()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	horizon := now.Add(-e.window)
	for k, at := range e.seen {
		if at.Before(horizon) {
			delete(e.seen, k)
		}
	}

	if _, ok := e.seen[key]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDeploymentCoalesced, key)
	}

	select {
	case e.queue <- req:
		// the key is recorded only for what actually got in.
		e.seen[key] = now
		return nil
	default:
		return fmt.Errorf("%w: the pipeline queue is full", kerrors.ErrBackpressure)
	}
}

func (e *engine) Run(ctx context.Context) error {
	wg := sync.WaitGroup{}
	defer wg.Wait()

	_, err := loop.Start(ctx, 0, func(ctx context.Context, dispatched int) (int, loop.Next) {
		var req domain.DeploymentRequest
		select {
		case <-ctx.Done():
			return dispatched, loop.Break(ctx.Err())
		case req = <-e.queue:
		}

		d, owned, err := e.deployments.Database().Register(ctx, req)
		if err != nil {
			e.logger.Printf("registering %s failed: %s", req.DedupeKey(), err)
			return dispatched, loop.Continue(0)
		}
		if !owned {
			// an attempt for the revision is walking the pipeline already.
			e.logger.Printf("%s coalesced into deployment %s", req.DedupeKey(), d.Id)
			return dispatched, loop.Continue(0)
		}

		e.emit(ctx, d.Id, req.RevisionID, "", domain.Received, "accepted push on "+req.Ref, false)

		wg.Add(1)
		go func() {
			defer wg.Done()
			e.drive(ctx, d)
		}()
		return dispatched + 1, loop.Continue(0)
	})
	return err
}

// takeOver registers a drive toward sequence and cancels every older one in
// flight. false when a newer drive is registered already: the caller is stale
// and must not touch the cluster.
func (e *engine) takeOver(sequence int64, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for s := range e.acting {
		if sequence < s {
			return false
		}
	}
	for s, c := range e.acting {
		if s < sequence {
			// the older attempt loses its drive.
			c()
		}
	}
	e.acting[sequence] = cancel
	return true
}

func (e *engine) release(sequence int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cancel, ok := e.acting[sequence]; ok {
		cancel()
		delete(e.acting, sequence)
	}
}

package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	kmanifest "github.com/opst/shipfab/pkg/domain/manifest/db"
	ksync "github.com/opst/shipfab/pkg/domain/sync/k8s"
)

// Controller drives the cluster toward manifest entries, one drive at a time.
//
// Entries are driven in sequence order. Taking a newer entry over cancels the
// in-flight drive of an older one, and an entry at or below any sequence
// already driven is refused. Either way the losing drive concludes with
// domain.ErrSyncSuperseded: its entry is never applied over a newer one.
type Controller interface {
	// Sync applies the manifest entry to the cluster and polls until the
	// cluster has converged to it, or the sync timeout passed.
	//
	// # Returns
	//
	// - domain.SyncState : SyncConverged when the cluster reached the entry,
	// SyncDiverged when the timeout passed first. Both come with a nil error.
	//
	// - error : domain.ErrSyncSuperseded when a newer entry took the drive
	// over. Otherwize the sync could not conclude: the cluster was
	// unreachable, or ctx was canceled.
	Sync(ctx context.Context, entry domain.ManifestRevision) (domain.SyncState, error)

	// Reconcile drives the cluster back to the manifest head when they have
	// drifted apart. One pass of the reconciliation loop.
	//
	// It is a no-op while a drive is in flight, when the log is empty, and
	// when the cluster declares the head already.
	Reconcile(ctx context.Context) error
}

type flight struct {
	sequence int64
	cancel   context.CancelFunc
}

type controller struct {
	app      string
	k8s      ksync.Interface
	manifest kmanifest.Interface
	timeout  time.Duration

	mu         sync.Mutex
	inflight   *flight
	lastTarget int64
}

func New(
	app *oconf.AppConfig,
	k8s ksync.Interface,
	manifest kmanifest.Interface,
	policy *oconf.SyncPolicyConfig,
) Controller {
	return &controller{
		app:      app.Name(),
		k8s:      k8s,
		manifest: manifest,
		timeout:  policy.Timeout(),
	}
}

func (c *controller) Sync(ctx context.Context, entry domain.ManifestRevision) (domain.SyncState, error) {
	state := domain.SyncState{
		TargetSequence: entry.Sequence,
		Status:         domain.SyncPending,
	}

	fctx, err := c.takeOver(ctx, entry.Sequence)
	if err != nil {
		return state, err
	}
	defer c.release(entry.Sequence)

	deadline := time.Now().Add(c.timeout)
	m := entry.Document(c.app)

	if err := c.k8s.Apply(fctx, m); err != nil {
		if errors.Is(err, domain.ErrStaleManifest) {
			// the cluster runs a newer entry already.
			return state, fmt.Errorf("%w: %v", domain.ErrSyncSuperseded, err)
		}
		if fctx.Err() != nil && ctx.Err() == nil {
			return state, fmt.Errorf("%w: entry #%d", domain.ErrSyncSuperseded, entry.Sequence)
		}
		return state, err
	}

	st, err := c.k8s.Await(fctx, m, deadline)
	if err != nil {
		if fctx.Err() != nil && ctx.Err() == nil {
			// not the caller's cancel. a newer entry took the drive over.
			return st, fmt.Errorf("%w: entry #%d", domain.ErrSyncSuperseded, entry.Sequence)
		}
		return st, err
	}
	return st, nil
}

// register the drive of the entry, canceling the in-flight older one.
func (c *controller) takeOver(ctx context.Context, sequence int64) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sequence <= c.lastTarget {
		return nil, fmt.Errorf(
			"%w: entry #%d, but #%d has been driven",
			domain.ErrSyncSuperseded, sequence, c.lastTarget,
		)
	}

	if cur := c.inflight; cur != nil {
		// the older drive loses.
		cur.cancel()
	}

	fctx, cancel := context.WithCancel(ctx)
	c.inflight = &flight{sequence: sequence, cancel: cancel}
	c.lastTarget = sequence
	return fctx, nil
}

func (c *controller) release(sequence int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f := c.inflight; f != nil && f.sequence == sequence {
		f.cancel()
		c.inflight = nil
	}
}

func (c *controller) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	busy := c.inflight != nil
	c.mu.Unlock()
	if busy {
		// a deployment is driving the cluster right now.
		return nil
	}

	head, err := c.manifest.Head(ctx)
	if err != nil {
		return err
	}
	if head == nil {
		// nothing has been declared yet.
		return nil
	}

	err = c.k8s.Apply(ctx, head.Document(c.app))
	if errors.Is(err, domain.ErrStaleManifest) {
		// a newer entry got applied between reading the head and now.
		return nil
	}
	return err
}

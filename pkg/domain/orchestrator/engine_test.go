package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	kdeployment "github.com/opst/shipfab/pkg/domain/deployment"
	kdepdb "github.com/opst/shipfab/pkg/domain/deployment/db"
	deploymock "github.com/opst/shipfab/pkg/domain/deployment/db/mock"
	kerrors "github.com/opst/shipfab/pkg/domain/errors"
	keventlog "github.com/opst/shipfab/pkg/domain/eventlog"
	kevdb "github.com/opst/shipfab/pkg/domain/eventlog/db"
	kmanifest "github.com/opst/shipfab/pkg/domain/manifest"
	manifestmock "github.com/opst/shipfab/pkg/domain/manifest/db/mock"
	"github.com/opst/shipfab/pkg/domain/orchestrator"
	"github.com/opst/shipfab/pkg/utils/cmp"
)

func request(revisionID string) domain.DeploymentRequest {
	return domain.DeploymentRequest{
		Repository: "github.com/acme/hello-app",
		RevisionID: revisionID,
		Ref:        "refs/heads/main",
		Author:     "dev@acme.example",
		Message:    "ship it",
		PushedAt:   time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func record(req domain.DeploymentRequest) domain.BuildRecord {
	return domain.BuildRecord{
		Repository:  req.Repository,
		RevisionID:  req.RevisionID,
		ArtifactTag: domain.ArtifactTagFor("registry.fake.local/hello-app", req.RevisionID),
		Attempts:    1,
		Succeeded:   true,
	}
}

func entry(sequence int64, revisionID string) domain.ManifestRevision {
	return domain.ManifestRevision{
		Sequence:         sequence,
		RevisionID:       revisionID,
		ArtifactTag:      domain.ArtifactTagFor("registry.fake.local/hello-app", revisionID),
		PreviousSequence: sequence - 1,
		Author:           "dev@acme.example",
		CreatedAt:        time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func converged(sequence int64) domain.SyncState {
	return domain.SyncState{
		TargetSequence:   sequence,
		ObservedSequence: sequence,
		Status:           domain.SyncConverged,
	}
}

func queueConfig(capacity int, window string) *oconf.QueueConfig {
	return oconf.TrySeal(&oconf.QueueConfigMarshall{
		Capacity:     capacity,
		DedupeWindow: window,
	})
}

type buildsMock struct {
	build func(ctx context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error)
}

func (m *buildsMock) Build(ctx context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error) {
	if m.build == nil {
		panic(errors.New("it should not be called"))
	}
	return m.build(ctx, req)
}

type updaterMock struct {
	update func(ctx context.Context, rec domain.BuildRecord, author string) (domain.ManifestRevision, error)
}

func (m *updaterMock) Update(ctx context.Context, rec domain.BuildRecord, author string) (domain.ManifestRevision, error) {
	if m.update == nil {
		panic(errors.New("it should not be called"))
	}
	return m.update(ctx, rec, author)
}

type controllerMock struct {
	sync      func(ctx context.Context, entry domain.ManifestRevision) (domain.SyncState, error)
	reconcile func(ctx context.Context) error
}

func (m *controllerMock) Sync(ctx context.Context, entry domain.ManifestRevision) (domain.SyncState, error) {
	if m.sync == nil {
		panic(errors.New("it should not be called"))
	}
	return m.sync(ctx, entry)
}

func (m *controllerMock) Reconcile(ctx context.Context) error {
	if m.reconcile == nil {
		panic(errors.New("it should not be called"))
	}
	return m.reconcile(ctx)
}

type verifierMock struct {
	verify func(ctx context.Context, state domain.SyncState) (domain.Verdict, error)
}

func (m *verifierMock) Verify(ctx context.Context, state domain.SyncState) (domain.Verdict, error) {
	if m.verify == nil {
		panic(errors.New("it should not be called"))
	}
	return m.verify(ctx, state)
}

type managerMock struct {
	rollback func(ctx context.Context, failed domain.ManifestRevision) (domain.ManifestRevision, error)
}

func (m *managerMock) Rollback(ctx context.Context, failed domain.ManifestRevision) (domain.ManifestRevision, error) {
	if m.rollback == nil {
		panic(errors.New("it should not be called"))
	}
	return m.rollback(ctx, failed)
}

// pipeline bundles an engine over mock stores and mock stages.
//
// The published channel receives what the engine hands the sink; tests wait
// on it for conclusions instead of polling the stores.
type pipeline struct {
	deployments *deploymock.DeploymentInterface
	manifests   *manifestmock.ManifestInterface
	events      *eventTable
	builds      *buildsMock
	updates     *updaterMock
	syncs       *controllerMock
	health      *verifierMock
	rollbacks   *managerMock

	published chan domain.TransitionEvent
}

func newPipeline() *pipeline {
	return &pipeline{
		deployments: deploymock.NewDeploymentInterface(),
		manifests:   manifestmock.NewManifestInterface(),
		events:      &eventTable{},
		builds:      &buildsMock{},
		updates:     &updaterMock{},
		syncs:       &controllerMock{},
		health:      &verifierMock{},
		rollbacks:   &managerMock{},
		published:   make(chan domain.TransitionEvent, 64),
	}
}

// recordKeeping wires the stores to accept whatever the pipeline writes.
// The call logs keep the history for the asserts.
func (p *pipeline) recordKeeping(deploymentId string) {
	p.deployments.Impl.Register = func(_ context.Context, req domain.DeploymentRequest) (domain.Deployment, bool, error) {
		return domain.Deployment{DeploymentBody: domain.DeploymentBody{
			Id:                deploymentId,
			Status:            domain.Received,
			DeploymentRequest: req,
		}}, true, nil
	}
	p.deployments.Impl.SetStatus = func(context.Context, string, domain.DeploymentStatus) error { return nil }
	p.deployments.Impl.SetManifest = func(context.Context, string, int64) error { return nil }
	p.deployments.Impl.RecordOutcome = func(context.Context, string, domain.DeploymentStatus, domain.DeploymentExit, bool) error { return nil }
	p.manifests.Impl.MarkHealth = func(context.Context, int64, domain.HealthState) error { return nil }
}

func (p *pipeline) engine() orchestrator.Engine {
	return p.engineOver(queueConfig(8, "60s"))
}

func (p *pipeline) engineOver(conf *oconf.QueueConfig) orchestrator.Engine {
	return orchestrator.New(
		log.New(io.Discard, "", 0),
		kdeployment.New(p.deployments),
		kmanifest.New(p.manifests),
		keventlog.New(p.events),
		p.builds,
		p.updates,
		p.syncs,
		p.health,
		p.rollbacks,
		orchestrator.SinkFunc(func(ev domain.TransitionEvent) { p.published <- ev }),
		conf,
	)
}

// run starts the dispatcher. The returned stop cancels it and waits until
// every attempt goroutine joined; the mocks are safe to read after that.
func run(t *testing.T, testee orchestrator.Engine) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- testee.Run(ctx)
	}()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(3 * time.Second):
			t.Fatal("the dispatcher did not stop")
			return nil
		}
	}
}

// conclusions reads published events until `attempts` of them have concluded.
func conclusions(t *testing.T, ch <-chan domain.TransitionEvent, attempts int) []domain.TransitionEvent {
	t.Helper()
	got := []domain.TransitionEvent{}
	deadline := time.After(3 * time.Second)
	for 0 < attempts {
		select {
		case ev := <-ch:
			got = append(got, ev)
			if ev.To == domain.Deployed || ev.To == domain.Aborted {
				attempts -= 1
			}
		case <-deadline:
			t.Fatalf("the pipeline did not conclude in time. events so far: %+v", got)
		}
	}
	return got
}

type leg struct {
	From domain.DeploymentStatus
	To   domain.DeploymentStatus
}

func legsOf(events []domain.TransitionEvent) []leg {
	legs := []leg{}
	for _, ev := range events {
		legs = append(legs, leg{From: ev.From, To: ev.To})
	}
	return legs
}

func (p *pipeline) statusWalk(t *testing.T, deploymentId string) []domain.DeploymentStatus {
	t.Helper()
	walk := []domain.DeploymentStatus{}
	for _, c := range p.deployments.Calls.SetStatus {
		if c.DeploymentId != deploymentId {
			t.Errorf("status set on a stranger: (actual, expected) = (%s, %s)", c.DeploymentId, deploymentId)
		}
		walk = append(walk, c.NewStatus)
	}
	return walk
}

func TestSubmit(t *testing.T) {
	t.Run("it refuses a push missing its repository or revision", func(t *testing.T) {
		testee := newPipeline().engine()

		for name, req := range map[string]domain.DeploymentRequest{
			"no repository": {RevisionID: "aaaa0000"},
			"no revision":   {Repository: "github.com/acme/hello-app"},
		} {
			if err := testee.Submit(req); !errors.Is(err, kerrors.ErrInvalidRequest) {
				t.Errorf("%s: (actual, expected) = (%v, %v)", name, err, kerrors.ErrInvalidRequest)
			}
		}
	})

	t.Run("it coalesces a duplicate push within the dedupe window", func(t *testing.T) {
		testee := newPipeline().engine()

		if err := testee.Submit(request("aaaa0000")); err != nil {
			t.Fatal(err)
		}
		if err := testee.Submit(request("aaaa0000")); !errors.Is(err, domain.ErrDeploymentCoalesced) {
			t.Errorf("duplicate: (actual, expected) = (%v, %v)", err, domain.ErrDeploymentCoalesced)
		}

		// another revision is its own deployment.
		if err := testee.Submit(request("bbbb1111")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it takes the revision again after the window passed", func(t *testing.T) {
		testee := newPipeline().engineOver(queueConfig(8, "30ms"))

		if err := testee.Submit(request("aaaa0000")); err != nil {
			t.Fatal(err)
		}
		time.Sleep(60 * time.Millisecond)
		if err := testee.Submit(request("aaaa0000")); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("it refuses pushes when the queue is full", func(t *testing.T) {
		testee := newPipeline().engineOver(queueConfig(1, "60s"))

		if err := testee.Submit(request("aaaa0000")); err != nil {
			t.Fatal(err)
		}
		if err := testee.Submit(request("bbbb1111")); !errors.Is(err, kerrors.ErrBackpressure) {
			t.Errorf("(actual, expected) = (%v, %v)", err, kerrors.ErrBackpressure)
		}
	})

	t.Run("it does not hold a dedupe slot for a refused push", func(t *testing.T) {
		testee := newPipeline().engineOver(queueConfig(1, "60s"))

		if err := testee.Submit(request("aaaa0000")); err != nil {
			t.Fatal(err)
		}
		if err := testee.Submit(request("bbbb1111")); !errors.Is(err, kerrors.ErrBackpressure) {
			t.Fatalf("(actual, expected) = (%v, %v)", err, kerrors.ErrBackpressure)
		}

		// the refused push was never recorded. retrying it meets
		// backpressure again, not a bogus coalesce.
		if err := testee.Submit(request("bbbb1111")); !errors.Is(err, kerrors.ErrBackpressure) {
			t.Errorf("retry: (actual, expected) = (%v, %v)", err, kerrors.ErrBackpressure)
		}
	})
}

func TestPipeline(t *testing.T) {
	t.Run("it deploys a healthy revision end to end", func(t *testing.T) {
		p := newPipeline()
		p.recordKeeping("deploy-1")

		req := request("aaaa0000")
		p.builds.build = func(_ context.Context, got domain.DeploymentRequest) (domain.BuildRecord, error) {
			if !got.Equal(&req) {
				return domain.BuildRecord{}, fmt.Errorf("unexpected request: %+v", got)
			}
			return record(got), nil
		}
		p.updates.update = func(_ context.Context, rec domain.BuildRecord, author string) (domain.ManifestRevision, error) {
			if author != req.Author {
				return domain.ManifestRevision{}, fmt.Errorf("unexpected author: %s", author)
			}
			return entry(5, rec.RevisionID), nil
		}
		p.syncs.sync = func(_ context.Context, e domain.ManifestRevision) (domain.SyncState, error) {
			return converged(e.Sequence), nil
		}
		p.health.verify = func(_ context.Context, state domain.SyncState) (domain.Verdict, error) {
			return domain.VerdictHealthy, nil
		}

		testee := p.engine()
		stop := run(t, testee)
		if err := testee.Submit(req); err != nil {
			t.Fatal(err)
		}
		events := conclusions(t, p.published, 1)
		if err := stop(); !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected dispatcher exit: %v", err)
		}

		wantLegs := []leg{
			{From: "", To: domain.Received},
			{From: domain.Received, To: domain.Building},
			{From: domain.Building, To: domain.Built},
			{From: domain.Built, To: domain.ManifestUpdated},
			{From: domain.ManifestUpdated, To: domain.Syncing},
			{From: domain.Syncing, To: domain.Verifying},
			{From: domain.Verifying, To: domain.Deployed},
		}
		if gotLegs := legsOf(events); !cmp.SliceEq(gotLegs, wantLegs) {
			t.Errorf("transitions: (actual, expected) = (%v, %v)", gotLegs, wantLegs)
		}
		if final := events[len(events)-1]; final.Fatal {
			t.Errorf("the conclusion should not be fatal: %+v", final)
		}

		wantWalk := []domain.DeploymentStatus{
			domain.Building, domain.Built, domain.ManifestUpdated,
			domain.Syncing, domain.Verifying,
		}
		if gotWalk := p.statusWalk(t, "deploy-1"); !cmp.SliceEq(gotWalk, wantWalk) {
			t.Errorf("status walk: (actual, expected) = (%v, %v)", gotWalk, wantWalk)
		}

		if bind, ok := p.deployments.Calls.SetManifest.Last(); !ok || bind.Sequence != 5 {
			t.Errorf("manifest binding: (actual, expected) = (%+v, sequence 5)", bind)
		}

		out, ok := p.deployments.Calls.RecordOutcome.Last()
		if !ok {
			t.Fatal("no outcome was recorded")
		}
		if out.DeploymentId != "deploy-1" || out.Conclusion != domain.Deployed || out.AsRollback {
			t.Errorf(
				"outcome: (actual, expected) = (%+v, deploy-1 concluded %s)",
				out, domain.Deployed,
			)
		}
		wantExit := domain.DeploymentExit{
			Reason:  "verified",
			Message: "entry #5 is live and healthy",
		}
		if out.Exit != wantExit {
			t.Errorf("exit: (actual, expected) = (%+v, %+v)", out.Exit, wantExit)
		}

		if mh, ok := p.manifests.Calls.MarkHealth.Last(); !ok ||
			mh.Sequence != 5 || mh.Health != domain.HealthVerified {
			t.Errorf("health mark: (actual, expected) = (%+v, #5 %s)", mh, domain.HealthVerified)
		}
		if n := p.manifests.Calls.MarkHealth.Times(); n != 1 {
			t.Errorf("health marks: (actual, expected) = (%d, 1)", n)
		}
	})

	t.Run("it restores the last healthy entry when verification fails", func(t *testing.T) {
		p := newPipeline()
		p.recordKeeping("deploy-1")

		p.builds.build = func(_ context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error) {
			return record(req), nil
		}
		p.updates.update = func(_ context.Context, rec domain.BuildRecord, _ string) (domain.ManifestRevision, error) {
			return entry(5, rec.RevisionID), nil
		}
		synced := []domain.ManifestRevision{}
		p.syncs.sync = func(_ context.Context, e domain.ManifestRevision) (domain.SyncState, error) {
			synced = append(synced, e)
			return converged(e.Sequence), nil
		}
		p.health.verify = func(_ context.Context, state domain.SyncState) (domain.Verdict, error) {
			if state.TargetSequence == 5 {
				return domain.VerdictUnhealthy, nil
			}
			return domain.VerdictHealthy, nil
		}
		p.rollbacks.rollback = func(_ context.Context, failed domain.ManifestRevision) (domain.ManifestRevision, error) {
			if failed.Sequence != 5 {
				return domain.ManifestRevision{}, fmt.Errorf("unexpected rollback of #%d", failed.Sequence)
			}
			// the newest entry which passed verification was aaaa0000.
			return entry(6, "aaaa0000"), nil
		}

		testee := p.engine()
		stop := run(t, testee)
		if err := testee.Submit(request("cccc2222")); err != nil {
			t.Fatal(err)
		}
		conclusions(t, p.published, 1)
		if err := stop(); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected dispatcher exit: %v", err)
		}

		out, ok := p.deployments.Calls.RecordOutcome.Last()
		if !ok {
			t.Fatal("no outcome was recorded")
		}
		if out.Conclusion != domain.Deployed || !out.AsRollback {
			t.Errorf("outcome: (actual, expected) = (%+v, %s as rollback)", out, domain.Deployed)
		}
		wantExit := domain.DeploymentExit{
			Reason:  "rollback",
			Message: "restored entry #6 (aaaa0000)",
		}
		if out.Exit != wantExit {
			t.Errorf("exit: (actual, expected) = (%+v, %+v)", out.Exit, wantExit)
		}

		// the cluster was driven to the failed entry, then to the restore
		// carrying the artifact of the last healthy revision.
		if len(synced) != 2 {
			t.Fatalf("syncs: (actual, expected) = (%d, 2)", len(synced))
		}
		if synced[0].Sequence != 5 || synced[1].Sequence != 6 {
			t.Errorf("sync order: (actual, expected) = ([#%d #%d], [#5 #6])", synced[0].Sequence, synced[1].Sequence)
		}
		if want := domain.ArtifactTagFor("registry.fake.local/hello-app", "aaaa0000"); synced[1].ArtifactTag != want {
			t.Errorf("restored artifact: (actual, expected) = (%s, %s)", synced[1].ArtifactTag, want)
		}

		wantMarks := []struct {
			Sequence int64
			Health   domain.HealthState
		}{
			{Sequence: 5, Health: domain.HealthFailed},
			{Sequence: 6, Health: domain.HealthVerified},
		}
		if !cmp.SliceEq(p.manifests.Calls.MarkHealth, wantMarks) {
			t.Errorf("health marks: (actual, expected) = (%v, %v)", p.manifests.Calls.MarkHealth, wantMarks)
		}

		wantWalk := []domain.DeploymentStatus{
			domain.Building, domain.Built, domain.ManifestUpdated,
			domain.Syncing, domain.Verifying, domain.RollingBack,
		}
		if gotWalk := p.statusWalk(t, "deploy-1"); !cmp.SliceEq(gotWalk, wantWalk) {
			t.Errorf("status walk: (actual, expected) = (%v, %v)", gotWalk, wantWalk)
		}
	})

	t.Run("it aborts a diverged entry and restores the last healthy one", func(t *testing.T) {
		p := newPipeline()
		p.recordKeeping("deploy-1")

		p.builds.build = func(_ context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error) {
			return record(req), nil
		}
		p.updates.update = func(_ context.Context, rec domain.BuildRecord, _ string) (domain.ManifestRevision, error) {
			return entry(5, rec.RevisionID), nil
		}
		p.syncs.sync = func(_ context.Context, e domain.ManifestRevision) (domain.SyncState, error) {
			if e.Sequence == 5 {
				// the sync timeout passed with the workload still behind.
				return domain.SyncState{TargetSequence: 5, ObservedSequence: 3, Status: domain.SyncDiverged}, nil
			}
			return converged(e.Sequence), nil
		}
		verified := []int64{}
		p.health.verify = func(_ context.Context, state domain.SyncState) (domain.Verdict, error) {
			verified = append(verified, state.TargetSequence)
			return domain.VerdictHealthy, nil
		}
		p.rollbacks.rollback = func(_ context.Context, failed domain.ManifestRevision) (domain.ManifestRevision, error) {
			return entry(6, "aaaa0000"), nil
		}

		testee := p.engine()
		stop := run(t, testee)
		if err := testee.Submit(request("cccc2222")); err != nil {
			t.Fatal(err)
		}
		conclusions(t, p.published, 1)
		if err := stop(); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected dispatcher exit: %v", err)
		}

		out, ok := p.deployments.Calls.RecordOutcome.Last()
		if !ok {
			t.Fatal("no outcome was recorded")
		}
		if out.Conclusion != domain.Aborted || out.AsRollback {
			t.Errorf("outcome: (actual, expected) = (%+v, %s)", out, domain.Aborted)
		}
		wantExit := domain.DeploymentExit{
			Reason:  "diverged",
			Message: "entry #5 did not converge: the workload settled at #3. restored entry #6",
		}
		if out.Exit != wantExit {
			t.Errorf("exit: (actual, expected) = (%+v, %+v)", out.Exit, wantExit)
		}

		// the diverged entry is never verified; the restore is.
		if !cmp.SliceEq(verified, []int64{6}) {
			t.Errorf("verified entries: (actual, expected) = (%v, [6])", verified)
		}

		wantMarks := []struct {
			Sequence int64
			Health   domain.HealthState
		}{
			{Sequence: 5, Health: domain.HealthDiverged},
			{Sequence: 6, Health: domain.HealthVerified},
		}
		if !cmp.SliceEq(p.manifests.Calls.MarkHealth, wantMarks) {
			t.Errorf("health marks: (actual, expected) = (%v, %v)", p.manifests.Calls.MarkHealth, wantMarks)
		}

		wantWalk := []domain.DeploymentStatus{
			domain.Building, domain.Built, domain.ManifestUpdated,
			domain.Syncing, domain.RollingBack,
		}
		if gotWalk := p.statusWalk(t, "deploy-1"); !cmp.SliceEq(gotWalk, wantWalk) {
			t.Errorf("status walk: (actual, expected) = (%v, %v)", gotWalk, wantWalk)
		}
	})

	t.Run("it escalates when no entry can be restored", func(t *testing.T) {
		p := newPipeline()
		p.recordKeeping("deploy-1")

		p.builds.build = func(_ context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error) {
			return record(req), nil
		}
		p.updates.update = func(_ context.Context, rec domain.BuildRecord, _ string) (domain.ManifestRevision, error) {
			return entry(5, rec.RevisionID), nil
		}
		p.syncs.sync = func(_ context.Context, e domain.ManifestRevision) (domain.SyncState, error) {
			return converged(e.Sequence), nil
		}
		p.health.verify = func(_ context.Context, state domain.SyncState) (domain.Verdict, error) {
			return domain.VerdictUnhealthy, nil
		}
		p.rollbacks.rollback = func(_ context.Context, failed domain.ManifestRevision) (domain.ManifestRevision, error) {
			return domain.ManifestRevision{}, fmt.Errorf(
				"%w: no entry below #%d has passed verification",
				domain.ErrRollbackImpossible, failed.Sequence,
			)
		}

		testee := p.engine()
		stop := run(t, testee)
		if err := testee.Submit(request("cccc2222")); err != nil {
			t.Fatal(err)
		}
		events := conclusions(t, p.published, 1)
		if err := stop(); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected dispatcher exit: %v", err)
		}

		out, ok := p.deployments.Calls.RecordOutcome.Last()
		if !ok {
			t.Fatal("no outcome was recorded")
		}
		if out.Conclusion != domain.Aborted || out.Exit.Reason != "rollback-impossible" || !out.Exit.Fatal {
			t.Errorf("outcome: (actual, expected) = (%+v, fatal rollback-impossible)", out)
		}

		// an operator has to look at this; the final event carries the flag.
		if final := events[len(events)-1]; !final.Fatal {
			t.Errorf("the conclusion should be fatal: %+v", final)
		}

		wantMarks := []struct {
			Sequence int64
			Health   domain.HealthState
		}{
			{Sequence: 5, Health: domain.HealthFailed},
		}
		if !cmp.SliceEq(p.manifests.Calls.MarkHealth, wantMarks) {
			t.Errorf("health marks: (actual, expected) = (%v, %v)", p.manifests.Calls.MarkHealth, wantMarks)
		}
	})

	t.Run("it aborts the attempt when the build fails for good", func(t *testing.T) {
		p := newPipeline()
		p.recordKeeping("deploy-1")

		p.builds.build = func(_ context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error) {
			return domain.BuildRecord{}, &domain.BuildFailure{
				RevisionID: req.RevisionID,
				Transient:  false,
				Cause:      errors.New("the build tool said no"),
			}
		}

		testee := p.engine()
		stop := run(t, testee)
		if err := testee.Submit(request("cccc2222")); err != nil {
			t.Fatal(err)
		}
		conclusions(t, p.published, 1)
		if err := stop(); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected dispatcher exit: %v", err)
		}

		out, ok := p.deployments.Calls.RecordOutcome.Last()
		if !ok {
			t.Fatal("no outcome was recorded")
		}
		if out.Conclusion != domain.Aborted || out.Exit.Reason != "build-failed" || out.Exit.Fatal {
			t.Errorf("outcome: (actual, expected) = (%+v, build-failed, not fatal)", out)
		}

		// the walk ended at the build. no manifest entry was written.
		wantWalk := []domain.DeploymentStatus{domain.Building}
		if gotWalk := p.statusWalk(t, "deploy-1"); !cmp.SliceEq(gotWalk, wantWalk) {
			t.Errorf("status walk: (actual, expected) = (%v, %v)", gotWalk, wantWalk)
		}
		if n := p.deployments.Calls.SetManifest.Times(); n != 0 {
			t.Errorf("manifest bindings: (actual, expected) = (%d, 0)", n)
		}
	})

	t.Run("it aborts an attempt whose entry was overtaken before syncing", func(t *testing.T) {
		p := newPipeline()
		p.recordKeeping("deploy-1")

		p.builds.build = func(_ context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error) {
			return record(req), nil
		}
		p.updates.update = func(_ context.Context, rec domain.BuildRecord, _ string) (domain.ManifestRevision, error) {
			return entry(5, rec.RevisionID), nil
		}
		p.syncs.sync = func(_ context.Context, e domain.ManifestRevision) (domain.SyncState, error) {
			return domain.SyncState{}, fmt.Errorf(
				"%w: the cluster is past entry #%d already", domain.ErrSyncSuperseded, e.Sequence,
			)
		}

		testee := p.engine()
		stop := run(t, testee)
		if err := testee.Submit(request("aaaa0000")); err != nil {
			t.Fatal(err)
		}
		conclusions(t, p.published, 1)
		if err := stop(); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected dispatcher exit: %v", err)
		}

		out, ok := p.deployments.Calls.RecordOutcome.Last()
		if !ok {
			t.Fatal("no outcome was recorded")
		}
		if out.Conclusion != domain.Aborted || out.Exit.Reason != "superseded" || out.Exit.Fatal {
			t.Errorf("outcome: (actual, expected) = (%+v, superseded, not fatal)", out)
		}

		// a stale entry is not a failure of the entry. nothing is rolled
		// back and nothing is marked unhealthy.
		if n := p.manifests.Calls.MarkHealth.Times(); n != 0 {
			t.Errorf("health marks: (actual, expected) = (%d, 0)", n)
		}
	})

	t.Run("it folds duplicate pushes of a revision into one build", func(t *testing.T) {
		p := newPipeline()
		p.recordKeeping("deploy-1")

		claimed := false
		registered := make(chan struct{}, 8)
		p.deployments.Impl.Register = func(_ context.Context, req domain.DeploymentRequest) (domain.Deployment, bool, error) {
			first := !claimed
			claimed = true
			registered <- struct{}{}
			return domain.Deployment{DeploymentBody: domain.DeploymentBody{
				Id:                "deploy-1",
				Status:            domain.Received,
				DeploymentRequest: req,
			}}, first, nil
		}

		gate := make(chan struct{})
		builds := 0
		p.builds.build = func(_ context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error) {
			builds += 1
			<-gate
			return record(req), nil
		}
		p.updates.update = func(_ context.Context, rec domain.BuildRecord, _ string) (domain.ManifestRevision, error) {
			return entry(5, rec.RevisionID), nil
		}
		p.syncs.sync = func(_ context.Context, e domain.ManifestRevision) (domain.SyncState, error) {
			return converged(e.Sequence), nil
		}
		p.health.verify = func(_ context.Context, state domain.SyncState) (domain.Verdict, error) {
			return domain.VerdictHealthy, nil
		}

		// the window is next to nothing, so every duplicate reaches the
		// store and it is the store's first-wins answer that coalesces.
		testee := p.engineOver(queueConfig(8, "1ms"))
		stop := run(t, testee)
		for i := 0; i < 3; i++ {
			if err := testee.Submit(request("aaaa0000")); err != nil {
				t.Fatal(err)
			}
			time.Sleep(5 * time.Millisecond)
		}
		for i := 0; i < 3; i++ {
			select {
			case <-registered:
			case <-time.After(3 * time.Second):
				t.Fatal("the dispatcher did not register every push")
			}
		}
		close(gate)
		conclusions(t, p.published, 1)
		if err := stop(); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected dispatcher exit: %v", err)
		}

		if builds != 1 {
			t.Errorf("builds: (actual, expected) = (%d, 1)", builds)
		}
		if n := p.deployments.Calls.Register.Times(); n != 3 {
			t.Errorf("registrations: (actual, expected) = (%d, 3)", n)
		}
		if n := p.deployments.Calls.RecordOutcome.Times(); n != 1 {
			t.Errorf("outcomes: (actual, expected) = (%d, 1)", n)
		}
	})

	t.Run("it hands the cluster over to a newer entry", func(t *testing.T) {
		deployments := newDeploymentTable()
		events := &eventTable{}
		manifests := manifestmock.NewManifestInterface()
		manifests.Impl.MarkHealth = func(context.Context, int64, domain.HealthState) error { return nil }

		aOnCluster := make(chan struct{})
		builds := &buildsMock{build: func(_ context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error) {
			if req.RevisionID == "bbbb1111" {
				// the newer push builds only once the older one is mid-sync.
				<-aOnCluster
			}
			return record(req), nil
		}}
		updates := &updaterMock{update: func(_ context.Context, rec domain.BuildRecord, _ string) (domain.ManifestRevision, error) {
			if rec.RevisionID == "aaaa0000" {
				return entry(5, rec.RevisionID), nil
			}
			return entry(6, rec.RevisionID), nil
		}}
		syncs := &controllerMock{sync: func(ctx context.Context, e domain.ManifestRevision) (domain.SyncState, error) {
			if e.Sequence == 5 {
				close(aOnCluster)
				// parked on the cluster until the newer drive cancels it.
				<-ctx.Done()
				return domain.SyncState{}, ctx.Err()
			}
			return converged(e.Sequence), nil
		}}
		health := &verifierMock{verify: func(context.Context, domain.SyncState) (domain.Verdict, error) {
			return domain.VerdictHealthy, nil
		}}

		published := make(chan domain.TransitionEvent, 64)
		testee := orchestrator.New(
			log.New(io.Discard, "", 0),
			kdeployment.New(deployments),
			kmanifest.New(manifests),
			keventlog.New(events),
			builds, updates, syncs, health, &managerMock{},
			orchestrator.SinkFunc(func(ev domain.TransitionEvent) { published <- ev }),
			queueConfig(8, "60s"),
		)
		stop := run(t, testee)
		if err := testee.Submit(request("aaaa0000")); err != nil {
			t.Fatal(err)
		}
		if err := testee.Submit(request("bbbb1111")); err != nil {
			t.Fatal(err)
		}
		conclusions(t, published, 2)
		if err := stop(); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected dispatcher exit: %v", err)
		}

		older, ok := deployments.outcomeOf("deploy-1")
		if !ok {
			t.Fatal("the older attempt did not conclude")
		}
		if older.conclusion != domain.Aborted || older.exit.Reason != "superseded" || older.exit.Fatal {
			t.Errorf("older attempt: (actual, expected) = (%+v, aborted as superseded)", older)
		}

		newer, ok := deployments.outcomeOf("deploy-2")
		if !ok {
			t.Fatal("the newer attempt did not conclude")
		}
		if newer.conclusion != domain.Deployed || newer.exit.Reason != "verified" || newer.asRollback {
			t.Errorf("newer attempt: (actual, expected) = (%+v, deployed as verified)", newer)
		}

		// only the entry which won the cluster got a health mark.
		if mh, ok := manifests.Calls.MarkHealth.Last(); !ok ||
			mh.Sequence != 6 || mh.Health != domain.HealthVerified {
			t.Errorf("health mark: (actual, expected) = (%+v, #6 %s)", mh, domain.HealthVerified)
		}
		if n := manifests.Calls.MarkHealth.Times(); n != 1 {
			t.Errorf("health marks: (actual, expected) = (%d, 1)", n)
		}
	})

	t.Run("it leaves a mid-flight attempt where it is on shutdown", func(t *testing.T) {
		p := newPipeline()
		p.recordKeeping("deploy-1")

		p.builds.build = func(_ context.Context, req domain.DeploymentRequest) (domain.BuildRecord, error) {
			return record(req), nil
		}
		p.updates.update = func(_ context.Context, rec domain.BuildRecord, _ string) (domain.ManifestRevision, error) {
			return entry(5, rec.RevisionID), nil
		}
		inSync := make(chan struct{})
		p.syncs.sync = func(ctx context.Context, e domain.ManifestRevision) (domain.SyncState, error) {
			close(inSync)
			<-ctx.Done()
			return domain.SyncState{}, ctx.Err()
		}

		testee := p.engine()
		stop := run(t, testee)
		if err := testee.Submit(request("aaaa0000")); err != nil {
			t.Fatal(err)
		}
		select {
		case <-inSync:
		case <-time.After(3 * time.Second):
			t.Fatal("the attempt did not reach its sync")
		}
		if err := stop(); !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected dispatcher exit: %v", err)
		}

		// no conclusion: the attempt stays where it was, for the next push
		// of the revision to pick up.
		if n := p.deployments.Calls.RecordOutcome.Times(); n != 0 {
			t.Errorf("outcomes: (actual, expected) = (%d, 0)", n)
		}
		if last, ok := p.deployments.Calls.SetStatus.Last(); !ok || last.NewStatus != domain.Syncing {
			t.Errorf("last status: (actual, expected) = (%+v, %s)", last, domain.Syncing)
		}
		for drained := false; !drained; {
			select {
			case ev := <-p.published:
				if ev.To == domain.Deployed || ev.To == domain.Aborted {
					t.Errorf("the attempt concluded on shutdown: %+v", ev)
				}
			default:
				drained = true
			}
		}
	})
}

// deploymentTable is a race-safe stand-in for the deployment store, for the
// tests where attempts walk the pipeline concurrently. Ids are assigned in
// registration order: deploy-1, deploy-2, ...
type deploymentTable struct {
	mu       sync.Mutex
	serial   int
	statuses map[string][]domain.DeploymentStatus
	outcomes map[string]outcome
}

type outcome struct {
	conclusion domain.DeploymentStatus
	exit       domain.DeploymentExit
	asRollback bool
}

var _ kdepdb.Interface = &deploymentTable{}

func newDeploymentTable() *deploymentTable {
	return &deploymentTable{
		statuses: map[string][]domain.DeploymentStatus{},
		outcomes: map[string]outcome{},
	}
}

func (tb *deploymentTable) Register(_ context.Context, req domain.DeploymentRequest) (domain.Deployment, bool, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.serial += 1
	id := fmt.Sprintf("deploy-%d", tb.serial)
	tb.statuses[id] = []domain.DeploymentStatus{domain.Received}
	return domain.Deployment{DeploymentBody: domain.DeploymentBody{
		Id:                id,
		Status:            domain.Received,
		DeploymentRequest: req,
	}}, true, nil
}

func (tb *deploymentTable) SetStatus(_ context.Context, deploymentId string, newStatus domain.DeploymentStatus) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.statuses[deploymentId] = append(tb.statuses[deploymentId], newStatus)
	return nil
}

func (tb *deploymentTable) SetManifest(context.Context, string, int64) error {
	return nil
}

func (tb *deploymentTable) RecordOutcome(_ context.Context, deploymentId string, conclusion domain.DeploymentStatus, exit domain.DeploymentExit, asRollback bool) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.outcomes[deploymentId] = outcome{conclusion: conclusion, exit: exit, asRollback: asRollback}
	return nil
}

func (tb *deploymentTable) Find(context.Context, domain.DeploymentFindQuery) ([]string, error) {
	panic(errors.New("it should not be called"))
}

func (tb *deploymentTable) Get(context.Context, []string) (map[string]domain.Deployment, error) {
	panic(errors.New("it should not be called"))
}

func (tb *deploymentTable) outcomeOf(deploymentId string) (outcome, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	out, ok := tb.outcomes[deploymentId]
	return out, ok
}

// eventTable is a race-safe append-only stand-in for the event log.
type eventTable struct {
	mu   sync.Mutex
	rows []domain.TransitionEvent
}

var _ kevdb.Interface = &eventTable{}

func (tb *eventTable) Append(_ context.Context, ev domain.TransitionEvent) (domain.TransitionEvent, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	ev.Id = int64(len(tb.rows) + 1)
	tb.rows = append(tb.rows, ev)
	return ev, nil
}

func (tb *eventTable) Since(context.Context, int64, int) ([]domain.TransitionEvent, error) {
	panic(errors.New("it should not be called"))
}

func (tb *eventTable) ByRevision(context.Context, string) ([]domain.TransitionEvent, error) {
	panic(errors.New("it should not be called"))
}

func (tb *eventTable) ByDeployment(context.Context, string) ([]domain.TransitionEvent, error) {
	panic(errors.New("it should not be called"))
}

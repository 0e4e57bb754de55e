package verifier

import (
	"context"
	"fmt"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
)

// Sampler takes one readiness observation of the workload under verification.
type Sampler func(ctx context.Context) (domain.ProbeSample, error)

// Verifier judges a freshly converged workload over a settling window.
//
// One observation is taken right away, then one at every poll interval,
// until the window closes. A single snapshot would mistake restart noise
// for health; the window absorbs it.
//
// # Verdict
//
// - VerdictUnhealthy : a sample reported a fatal probe, or its ready
// fraction fell below the floor. Judged at once, without waiting the
// window out.
//
// - VerdictHealthy : every sample of the whole window stayed at or above
// the threshold.
//
// - VerdictInconclusive : the window passed with an ambiguous signal.
// Callers treat this the same as unhealthy; a deployment does not pass
// verification by default.
type Verifier interface {
	// Verify watches the workload the sync converged to and returns the
	// verdict.
	//
	// # Returns
	//
	// - domain.Verdict : the judgement. Meaningful only when error is nil.
	//
	// - error : the state is not converged, the workload could not be
	// observed, or ctx was canceled. All of these fail closed: the verdict
	// comes back VerdictInconclusive.
	Verify(ctx context.Context, state domain.SyncState) (domain.Verdict, error)
}

type verifier struct {
	window    time.Duration
	interval  time.Duration
	threshold float64
	floor     float64
	sample    Sampler
}

// # params:
//
// - policy : window length and the threshold/floor ratios.
//
// - sync : its poll interval is also the sampling cadence.
//
// - sample : how to observe the workload.
func New(
	policy *oconf.HealthPolicyConfig,
	sync *oconf.SyncPolicyConfig,
	sample Sampler,
) Verifier {
	return &verifier{
		window:    policy.Window(),
		interval:  sync.Interval(),
		threshold: policy.Threshold(),
		floor:     policy.Floor(),
		sample:    sample,
	}
}

func (v *verifier) Verify(ctx context.Context, state domain.SyncState) (domain.Verdict, error) {
	if !state.Converged() {
		return domain.VerdictInconclusive, fmt.Errorf(
			"verification needs a converged workload, but the sync is %s", state.Status,
		)
	}

	window := time.NewTimer(v.window)
	defer window.Stop()
	tick := time.NewTicker(v.interval)
	defer tick.Stop()

	clean := true
	for {
		sample, err := v.sample(ctx)
		if err != nil {
			// fail closed. an unobservable workload does not pass.
			return domain.VerdictInconclusive, err
		}

		if sample.Fatal {
			return domain.VerdictUnhealthy, nil
		}
		if ratio, ok := sample.Ratio(); !ok {
			// nothing is desired to run. the window cannot clear this.
			clean = false
		} else if ratio < v.floor {
			return domain.VerdictUnhealthy, nil
		} else if ratio < v.threshold {
			clean = false
		}

		select {
		case <-ctx.Done():
			return domain.VerdictInconclusive, ctx.Err()
		case <-window.C:
			if clean {
				return domain.VerdictHealthy, nil
			}
			return domain.VerdictInconclusive, nil
		case <-tick.C:
		}
	}
}

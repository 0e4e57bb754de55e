package domain

import (
	"fmt"
	"time"
)

type Verdict string

const (
	// the workload kept its readiness at or above the threshold
	// for the whole settling window.
	VerdictHealthy Verdict = "healthy"

	// readiness dropped below the floor, or a probe reported an
	// unrecoverable condition.
	VerdictUnhealthy Verdict = "unhealthy"

	// the window passed without a clear signal.
	// Callers treat this the same as unhealthy, but record it as it is.
	VerdictInconclusive Verdict = "inconclusive"
)

func (v Verdict) String() string {
	return string(v)
}

func AsVerdict(s string) (Verdict, error) {
	switch s {
	case string(VerdictHealthy):
		return VerdictHealthy, nil
	case string(VerdictUnhealthy):
		return VerdictUnhealthy, nil
	case string(VerdictInconclusive):
		return VerdictInconclusive, nil
	default:
		return "", fmt.Errorf("'%s' is not Verdict", s)
	}
}

func (v Verdict) Passed() bool {
	return v == VerdictHealthy
}

// ProbeSample is one readiness observation of the target workload.
type ProbeSample struct {
	At time.Time

	// replicas reporting ready.
	Ready int

	// replicas the workload wants.
	Desired int

	// the workload reported an unrecoverable condition
	// (crash loop, image pull failure). One of these fails the window at once.
	Fatal bool

	// detail for the event log.
	Note string
}

// Ratio is Ready/Desired.
//
// ok is false when Desired is not positive. There is nothing to measure then,
// and the sample is ambiguous.
func (ps ProbeSample) Ratio() (float64, bool) {
	if ps.Desired <= 0 {
		return 0, false
	}
	return float64(ps.Ready) / float64(ps.Desired), true
}

func (ps ProbeSample) Equal(o ProbeSample) bool {
	return ps.At.Equal(o.At) &&
		ps.Ready == o.Ready &&
		ps.Desired == o.Desired &&
		ps.Fatal == o.Fatal &&
		ps.Note == o.Note
}

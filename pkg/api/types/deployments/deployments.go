package deployments

import (
	"encoding/json"
	"fmt"

	"github.com/opst/shipfab/pkg/api/types/manifests"
	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/utils/rfctime"
)

// Push is a webhook delivery: a notification that a revision was pushed.
type Push struct {
	Repository string `json:"repository"`

	Revision string `json:"revision"`

	Ref string `json:"ref,omitempty"`

	Author string `json:"author,omitempty"`

	Message string `json:"message,omitempty"`

	// when the push happened, by the sender's clock.
	PushedAt *rfctime.RFC3339 `json:"pushedAt,omitempty"`
}

func (p *Push) UnmarshalJSON(bytes []byte) error {
	f := new(struct {
		Repository *string          `json:"repository"`
		Revision   *string          `json:"revision"`
		Ref        *string          `json:"ref,omitempty"`
		Author     *string          `json:"author,omitempty"`
		Message    *string          `json:"message,omitempty"`
		PushedAt   *rfctime.RFC3339 `json:"pushedAt,omitempty"`
	})
	if err := json.Unmarshal(bytes, f); err != nil {
		return err
	}

	if f.Repository == nil {
		return fmt.Errorf(`required field missing: "repository"`)
	}
	p.Repository = *f.Repository

	if f.Revision == nil {
		return fmt.Errorf(`required field missing: "revision"`)
	}
	p.Revision = *f.Revision

	if f.Ref != nil {
		p.Ref = *f.Ref
	}
	if f.Author != nil {
		p.Author = *f.Author
	}
	if f.Message != nil {
		p.Message = *f.Message
	}
	p.PushedAt = f.PushedAt

	return nil
}

// Receipt acknowledges an accepted Push.
type Receipt struct {
	Repository string `json:"repository"`
	Revision   string `json:"revision"`
	Ref        string `json:"ref,omitempty"`
}

func (r Receipt) Equal(o Receipt) bool {
	return r == o
}

// Summary identifies a deployment attempt.
type Summary struct {
	DeploymentId string `json:"deploymentId"`
	Repository   string `json:"repository"`
	Revision     string `json:"revision"`
	Ref          string `json:"ref,omitempty"`
}

func (s Summary) Equal(o Summary) bool {
	return s == o
}

// Exit describes how a concluded attempt ended.
type Exit struct {
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`

	// true when the conclusion needs an operator.
	Fatal bool `json:"fatal,omitempty"`
}

func (e Exit) Equal(o Exit) bool {
	return e == o
}

// Build is the build record of an attempt's revision.
type Build struct {
	ArtifactTag string           `json:"artifactTag"`
	Attempts    int              `json:"attempts"`
	StartedAt   rfctime.RFC3339  `json:"startedAt"`
	FinishedAt  *rfctime.RFC3339 `json:"finishedAt,omitempty"`
	Succeeded   bool             `json:"succeeded"`
}

func (b Build) Equal(o Build) bool {
	return b.ArtifactTag == o.ArtifactTag &&
		b.Attempts == o.Attempts &&
		b.StartedAt.Equal(&o.StartedAt) &&
		b.FinishedAt.Equal(o.FinishedAt) &&
		b.Succeeded == o.Succeeded
}

type Detail struct {
	Summary

	Status string `json:"status"`

	// true when the attempt concluded Deployed by restoring an earlier revision.
	AsRollback bool `json:"asRollback,omitempty"`

	Author  string `json:"author,omitempty"`
	Message string `json:"message,omitempty"`

	PushedAt  rfctime.RFC3339 `json:"pushedAt"`
	UpdatedAt rfctime.RFC3339 `json:"updatedAt"`

	// how the attempt concluded. Nil while it is in flight.
	Exit *Exit `json:"exit,omitempty"`

	// build record for the revision. Nil until a build has been reserved.
	Build *Build `json:"build,omitempty"`

	// manifest log entry written by the attempt. Nil until then.
	Manifest *manifests.Entry `json:"manifest,omitempty"`
}

func (d Detail) Equal(o Detail) bool {
	return d.Summary.Equal(o.Summary) &&
		d.Status == o.Status &&
		d.AsRollback == o.AsRollback &&
		d.Author == o.Author &&
		d.Message == o.Message &&
		d.PushedAt.Equal(&o.PushedAt) &&
		d.UpdatedAt.Equal(&o.UpdatedAt) &&
		((d.Exit == nil && o.Exit == nil) ||
			(d.Exit != nil && o.Exit != nil && d.Exit.Equal(*o.Exit))) &&
		((d.Build == nil && o.Build == nil) ||
			(d.Build != nil && o.Build != nil && d.Build.Equal(*o.Build))) &&
		((d.Manifest == nil && o.Manifest == nil) ||
			(d.Manifest != nil && o.Manifest != nil && d.Manifest.Equal(*o.Manifest)))
}

func ComposeSummary(body domain.DeploymentBody) Summary {
	return Summary{
		DeploymentId: body.Id,
		Repository:   body.Repository,
		Revision:     body.RevisionID,
		Ref:          body.Ref,
	}
}

func composeBuild(br *domain.BuildRecord) *Build {
	if br == nil {
		return nil
	}
	b := Build{
		ArtifactTag: br.ArtifactTag,
		Attempts:    br.Attempts,
		StartedAt:   rfctime.RFC3339(br.StartedAt),
		Succeeded:   br.Succeeded,
	}
	if br.FinishedAt != nil {
		f := rfctime.RFC3339(*br.FinishedAt)
		b.FinishedAt = &f
	}
	return &b
}

func ComposeDetail(d domain.Deployment) Detail {
	detail := Detail{
		Summary:    ComposeSummary(d.DeploymentBody),
		Status:     d.Status.String(),
		AsRollback: d.AsRollback,
		Author:     d.Author,
		Message:    d.Message,
		PushedAt:   rfctime.RFC3339(d.PushedAt),
		UpdatedAt:  rfctime.RFC3339(d.UpdatedAt),
		Build:      composeBuild(d.Build),
	}
	if d.Exit != nil {
		detail.Exit = &Exit{
			Reason:  d.Exit.Reason,
			Message: d.Exit.Message,
			Fatal:   d.Exit.Fatal,
		}
	}
	if d.Manifest != nil {
		m := manifests.ComposeEntry(*d.Manifest)
		detail.Manifest = &m
	}
	return detail
}

package builder

import (
	"fmt"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/metasource"
	ptr "github.com/opst/shipfab/pkg/utils/pointer"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Where push credentials are mounted in the builder pod.
// The builder tool finds them through the DOCKER_CONFIG envvar.
const dockerConfigPath = "/ship/.docker"

// Instance converts a revision id into the name of the builder job for it.
//
// Jobs are keyed by revision, so a same revision never has two builder jobs
// at once. Long revision ids are cut to keep the name usable as a label value.
func Instance(revisionID string) string {
	name := revisionID
	if 40 < len(name) {
		name = name[:40]
	}
	return "builder-" + name
}

type BuildIdentifier struct {
	domain.DeploymentRequest
}

// The name of application/resource.
//
// If there are many resources running a same app, they may have same `Name()`.
//
// For `ObjectMeta.Name`, USE `Instance()`, NOT THIS.
//
// This is set as a value of k8s label "app.kubernetes.io/name".
//
// see: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
func (bi BuildIdentifier) Name() string {
	return bi.Component()
}

// This is set as a value of k8s label "app.kubernetes.io/instance"
// AND ALSO `ObjectMeta.Name` .
//
// This will identify an instance from others sharing Name() and Component().
//
// see: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
func (bi BuildIdentifier) Instance() string {
	return Instance(bi.RevisionID)
}

// Where is this positioned in system archetecture.
//
// This is set as a value of k8s label "app.kubernetes.io/component".
//
// see: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
func (bi BuildIdentifier) Component() string {
	return "builder"
}

// Identifier of entity in shipfab object model.
func (bi BuildIdentifier) Id() string {
	return bi.RevisionID
}

// type of "Id()"
func (bi BuildIdentifier) IdType() string {
	return "revision"
}

func (bi *BuildIdentifier) ObjectMeta(namespace string) kubeapimeta.ObjectMeta {
	return metasource.ToObjectMeta(bi, namespace)
}

// Executable is the spec of one build: which revision to build and
// which artifact to publish.
type Executable struct {
	BuildIdentifier

	ArtifactTag string
}

func New(req domain.DeploymentRequest, artifactTag string) (*Executable, error) {
	if req.Repository == "" {
		return nil, fmt.Errorf(
			"malformed build [revision:%s] : no repository", req.RevisionID,
		)
	}
	if req.RevisionID == "" {
		return nil, fmt.Errorf(
			"malformed build [repository:%s] : no revision", req.Repository,
		)
	}
	if artifactTag == "" {
		return nil, fmt.Errorf(
			"malformed build [repository:%s revision:%s] : no artifact tag",
			req.Repository, req.RevisionID,
		)
	}

	return &Executable{
		BuildIdentifier: BuildIdentifier{DeploymentRequest: req},
		ArtifactTag:     artifactTag,
	}, nil
}

func (ex *Executable) ObjectMeta(namespace string) kubeapimeta.ObjectMeta {
	return metasource.ToObjectMeta(ex, namespace)
}

var _ metasource.ResourceBuilder[*oconf.ShipClusterConfig, *kubebatch.Job] = &Executable{}

// convert Executable into kubernetes Job spec.
//
// The builder tool receives its task through arguments:
//
//	--context=SOURCE_REPOSITORY --revision=REVISION_ID --destination=ARTIFACT_TAG
//
// appended after the configured extra arguments.
//
// # params:
//
// - conf *oconf.ShipClusterConfig: supplemental component for the job.
//
// # return:
//
// - *kubebatch.Job
func (r *Executable) Build(conf *oconf.ShipClusterConfig) *kubebatch.Job {

	bc := conf.Builder()

	args := append([]string{}, bc.Args()...)
	args = append(
		args,
		fmt.Sprintf("--context=%s", r.Repository),
		fmt.Sprintf("--revision=%s", r.RevisionID),
		fmt.Sprintf("--destination=%s", r.ArtifactTag),
	)

	env := []kubecore.EnvVar{}
	volumes := []kubecore.Volume{}
	mounts := []kubecore.VolumeMount{}
	if secret := bc.PushSecret(); secret != "" {
		volumes = append(volumes, kubecore.Volume{
			Name: "registry-credentials",
			VolumeSource: kubecore.VolumeSource{
				Secret: &kubecore.SecretVolumeSource{SecretName: secret},
			},
		})
		mounts = append(mounts, kubecore.VolumeMount{
			Name:      "registry-credentials",
			MountPath: dockerConfigPath,
			ReadOnly:  true,
		})
		env = append(env, kubecore.EnvVar{
			Name: "DOCKER_CONFIG", Value: dockerConfigPath,
		})
	}

	automount := false
	if bc.ServiceAccount() != "" {
		automount = true
	}

	return &kubebatch.Job{
		ObjectMeta: r.ObjectMeta(conf.Namespace()),
		Spec: kubebatch.JobSpec{
			Parallelism:           ptr.Ref[int32](1),
			BackoffLimit:          ptr.Ref[int32](0),
			ActiveDeadlineSeconds: ptr.Ref(int64(bc.Timeout().Seconds())),
			Template: kubecore.PodTemplateSpec{
				Spec: kubecore.PodSpec{
					RestartPolicy:                kubecore.RestartPolicyNever,
					ServiceAccountName:           bc.ServiceAccount(),
					AutomountServiceAccountToken: &automount,
					EnableServiceLinks:           ptr.Ref(false), // do not expose Service endpoints for the build.
					Containers: []kubecore.Container{
						{
							Name:         "main",
							Image:        bc.Image(),
							Args:         args,
							Env:          rectify(env),
							VolumeMounts: rectify(mounts),
						},
					},
					Volumes: rectify(volumes),
				},
			},
		},
	}
}

func rectify[T any](sli []T) []T {
	if len(sli) == 0 {
		return nil
	}
	return sli
}

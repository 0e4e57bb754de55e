package app

import (
	"fmt"
	"strconv"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/cluster"
	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/metasource"
	ptr "github.com/opst/shipfab/pkg/utils/pointer"
	kubeapps "k8s.io/api/apps/v1"
	kubecore "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Workload is the declaration of the app for one manifest entry.
//
// Unlike builder jobs, the workload is a single long-lived resource:
// its name never changes, and driving the cluster to a new entry mutates
// the resource in place.
type Workload struct {
	name     string
	manifest domain.Manifest
}

func New(name string, m domain.Manifest) (Workload, error) {
	if name == "" {
		return Workload{}, fmt.Errorf("malformed workload : no app name")
	}
	if m.Image == "" {
		return Workload{}, fmt.Errorf(
			"malformed workload [app:%s sequence:%d] : no image", name, m.Sequence,
		)
	}
	return Workload{name: name, manifest: m}, nil
}

func (w Workload) Name() string {
	return w.name
}

// ObjectMeta.Name of the workload. Same as Name(); there is one app.
func (w Workload) Instance() string {
	return w.name
}

// Where is this positioned in system archetecture.
func (w Workload) Component() string {
	return "app"
}

// Identifier of entity in shipfab object model.
func (w Workload) Id() string {
	return w.manifest.Revision
}

// type of "Id()"
func (w Workload) IdType() string {
	return "revision"
}

func (w Workload) ObjectMeta(namespace string) kubeapimeta.ObjectMeta {
	meta := metasource.ToObjectMeta(w, namespace)
	meta.Annotations = map[string]string{
		cluster.AnnotationRevision: w.manifest.Revision,
		cluster.AnnotationSequence: strconv.FormatInt(w.manifest.Sequence, 10),
	}
	return meta
}

// identity labels of the workload, shared by every revision.
//
// k8s refuses selector changes, so nothing revision-bound may appear here.
func (w Workload) Selector() map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":     w.Name(),
		"app.kubernetes.io/instance": w.Instance(),
	}
}

var _ metasource.ResourceBuilder[*oconf.ShipClusterConfig, *kubeapps.Deployment] = Workload{}

// convert Workload into a kubernetes Deployment spec declaring the manifest.
//
// The app container is named as the workload, carries the manifest's image,
// and the resource is stamped with the revision and sequence annotations
// which convergence checks read back.
func (w Workload) Build(conf *oconf.ShipClusterConfig) *kubeapps.Deployment {
	return &kubeapps.Deployment{
		ObjectMeta: w.ObjectMeta(conf.Namespace()),
		Spec: kubeapps.DeploymentSpec{
			Replicas: ptr.Ref(conf.App().Replicas()),
			Selector: &kubeapimeta.LabelSelector{MatchLabels: w.Selector()},
			Template: kubecore.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{
					Labels: metasource.ToLabels(w),
					Annotations: map[string]string{
						cluster.AnnotationRevision: w.manifest.Revision,
					},
				},
				Spec: kubecore.PodSpec{
					Containers: []kubecore.Container{
						{
							Name:  w.name,
							Image: w.manifest.Image,
						},
					},
				},
			},
		},
	}
}

package metasource

import (
	"fmt"

	"github.com/opst/shipfab/pkg/buildtime"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
)

type SpecBuilder[C any, D any] interface {
	// Build k8s resource descriptor(s)
	Build(conf C) D
}

// shipfab component metadata which is deployed or placed in k8s cluster.
//
// ToLabels function converts MetaSource to k8s labels.
type MetaSource interface {
	// The name of application/resource.
	//
	// If there are many resources running a same app, they may have same `Name()`.
	//
	// For `ObjectMeta.Name`, USE `Instance()`, NOT THIS.
	//
	// This is set as a value of k8s label "app.kubernetes.io/name".
	//
	// see: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
	Name() string

	// This is set as a value of k8s label "app.kubernetes.io/instance"
	// AND ALSO `ObjectMeta.Name` .
	//
	// This will identify an instance from others sharing Name() and Component().
	//
	// see: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
	//
	// When you doubt what value should be set,
	// Name() + "-" + IdType() + "-" + "Id()" is recommended.
	Instance() string

	// Where is this positioned in system archetecture.
	//
	// example: builder, app, ...
	//
	// This is set as a value of k8s label "app.kubernetes.io/component".
	//
	// see: https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
	Component() string

	// Identifier of entity in shipfab object model.
	Id() string

	// type of "Id()"
	//
	// example: revision, deployment_id, ...
	IdType() string

	// convert to ObjectMeta
	ObjectMeta(namespace string) kubeapimeta.ObjectMeta
}

type Extraer interface {

	// Extra labels.
	//
	// See document of `ToLabels` for more details.
	Extras() map[string]string
}

type ResourceBuilder[C any, D any] interface {
	MetaSource
	SpecBuilder[C, D]
}

// convert from MetaSource to k8s labels, including "recomended labels".
//
// https://kubernetes.io/docs/concepts/overview/working-with-objects/common-labels/
//
// # Recomended Labels:
//
// Recomended labels are generated like below.
//
// - "app.kubernetes.io/version"    : build version of shipfab.
//
// - "app.kubernetes.io/part-of"    : "ship"
//
// - "app.kubernetes.io/managed-by" : "ship"
//
// - "app.kubernetes.io/component"  : s.Component()
//
// - "app.kubernetes.io/name"       : s.Name()
//
// - "app.kubernetes.io/instance"   : s.Instance()
//
// Each `s`s are MetaSource passed to `ToLabels`.
//
// # Ship Labels:
//
// Shipfab specific labels are prefixed with "ship/" .
// They are generated like below.
//
// - "ship/${s.Name()}.${s.IdType()}" : s.Id()
//
// - "ship/${s.Name()}.KEY"           : s.Extras()[KEY] (if any)
//
// Each `s`s here are MetaSource passed to `ToLabels`.
//
// Expression `${...}` are placeholder, replaced with evaluation of its content.
// CAPITALIZED `KEY` is a key in `s.Extras()`,
// only if `s` implements `interface { Extras() map[string]string }`
// (otherwize, they are not appeared).
//
// #params:
//
// - MetaSource: shipfab object which is to be k8s resource.
func ToLabels(s MetaSource) map[string]string {
	shipLabelPrefix := fmt.Sprintf("ship/%s.", s.Name())

	l := map[string]string{
		"app.kubernetes.io/version":    buildtime.VERSION(),
		"app.kubernetes.io/name":       s.Name(),
		"app.kubernetes.io/instance":   s.Instance(),
		"app.kubernetes.io/component":  s.Component(),
		"app.kubernetes.io/part-of":    "ship",
		"app.kubernetes.io/managed-by": "ship",

		// ship/NAME.ID_TYPE: ID  --  example: `ship/builder.revision: 0123abcd...`
		shipLabelPrefix + s.IdType(): s.Id(),
	}

	if withEx, ok := s.(Extraer); ok {
		for k, v := range withEx.Extras() {
			l[shipLabelPrefix+k] = v
		}
	}

	return l
}

// default (and reference) implimentation of MetaSource.ObjectMeta.
//
// For users:
//
// This is a helper function for MetaSource implimenter, not for users.
//
// When you using specific MetaSource implimentations,
// it is recommended that you use MetaSource.ObjectMeta methods, not this,
// to respect for each types.
func ToObjectMeta(m MetaSource, namespace string) kubeapimeta.ObjectMeta {
	labels := ToLabels(m)
	return kubeapimeta.ObjectMeta{
		Name:      m.Instance(),
		Namespace: namespace,
		Labels:    labels,
	}
}

package mock

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/opst/shipfab/pkg/domain/shipfab/k8s/cluster"
	kubeapps "k8s.io/api/apps/v1"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
)

// get mocked cluster.Cluster
//
// # returns
//
//   - cluster.Cluster : using *MockClient as base client
//   - *MockClient : mock object.
//     you can fake k8s behaviours or spy its usage.
func NewCluster() (cluster.Cluster, *MockClient) {
	clientset := NewMockClient()

	namespace := "fake-namespace"
	domain := "fake.local"

	return cluster.AttachCluster(clientset, namespace, domain), clientset
}

var reNonAcceptableInLabelValue = regexp.MustCompile("[^-.a-zA-Z0-9]")

const k8slabel_maxlen int = 63

// find minimum number.
func min[T interface {
	// integral full-ordering numbers
	//
	// to generalize to floating point, you should take care NaN,
	// expecially case of a = NaN
	int | int8 | int16 | int32 | int64 |
		uint | uint8 | uint16 | uint32 | uint64
}](a T, b ...T) T {
	m := a

	for _, x := range b {
		if x < m {
			m = x
		}
	}

	return m
}

// convert test name to k8s-label compliant string.
//
// https://kubernetes.io/docs/concepts/overview/working-with-objects/labels/#syntax-and-character-set
func LabelValue(t *testing.T, limit ...int) string {
	name := t.Name()
	name = strings.ToLower(name)
	name = reNonAcceptableInLabelValue.ReplaceAllString(name, "-")
	name = strings.TrimLeft(name, "-._")
	name = strings.TrimRight(name, "-._")

	limit = append(limit, len(name))
	name = name[:min(k8slabel_maxlen, limit...)]
	name = strings.TrimLeft(name, "-._")
	name = strings.TrimRight(name, "-._")

	return name
}

type MockClient struct {
	Impl struct {
		GetDeployment    func(ctx context.Context, namespace string, deplname string) (*kubeapps.Deployment, error)
		CreateDeployment func(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)
		UpdateDeployment func(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)

		GetJob    func(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
		CreateJob func(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error)
		DeleteJob func(ctx context.Context, namespace string, name string) error

		FindPods func(ctx context.Context, namespace string, ls cluster.LabelSelector) ([]kubecore.Pod, error)

		Log func(ctx context.Context, namespace string, pod string, container string) (io.ReadCloser, error)
	}
	Called struct {
		GetDeployment    uint64
		CreateDeployment uint64
		UpdateDeployment uint64

		GetJob    uint64
		CreateJob uint64
		DeleteJob uint64

		FindPods uint64

		Log uint64
	}
}

// MockClient implements cluster.K8sClient
var _ cluster.K8sClient = &MockClient{}

func (m *MockClient) GetDeployment(ctx context.Context, namespace string, deplname string) (*kubeapps.Deployment, error) {
	m.Called.GetDeployment += 1

	if m.Impl.GetDeployment == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.GetDeployment(ctx, namespace, deplname)
}
func (m *MockClient) CreateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	m.Called.CreateDeployment += 1

	if m.Impl.CreateDeployment == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.CreateDeployment(ctx, namespace, depl)
}
func (m *MockClient) UpdateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	m.Called.UpdateDeployment += 1

	if m.Impl.UpdateDeployment == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.UpdateDeployment(ctx, namespace, depl)
}
func (m *MockClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	m.Called.GetJob += 1

	if m.Impl.GetJob == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.GetJob(ctx, namespace, name)
}
func (m *MockClient) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	m.Called.CreateJob += 1

	if m.Impl.CreateJob == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.CreateJob(ctx, namespace, job)
}
func (m *MockClient) DeleteJob(ctx context.Context, namespace string, name string) error {
	m.Called.DeleteJob += 1

	if m.Impl.DeleteJob == nil {
		return errors.New("[MOCK] not implemented")
	}
	return m.Impl.DeleteJob(ctx, namespace, name)
}
func (m *MockClient) FindPods(ctx context.Context, namespace string, ls cluster.LabelSelector) ([]kubecore.Pod, error) {
	m.Called.FindPods += 1

	if m.Impl.FindPods == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.FindPods(ctx, namespace, ls)
}
func (m *MockClient) Log(ctx context.Context, namespace string, pod string, container string) (io.ReadCloser, error) {
	m.Called.Log += 1

	if m.Impl.Log == nil {
		return nil, errors.New("[MOCK] not implemented")
	}
	return m.Impl.Log(ctx, namespace, pod, container)
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

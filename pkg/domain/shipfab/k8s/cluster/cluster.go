package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/opst/shipfab/pkg/domain"
	k8serrors "github.com/opst/shipfab/pkg/domain/errors/k8serrors"
	"github.com/opst/shipfab/pkg/utils/retry"
	kubeapps "k8s.io/api/apps/v1"
	kubebatch "k8s.io/api/batch/v1"
	kubecore "k8s.io/api/core/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8s "k8s.io/client-go/kubernetes"
)

// subset of k8s.Clientset
type K8sClient interface {
	GetDeployment(ctx context.Context, namespace string, deplname string) (*kubeapps.Deployment, error)
	CreateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)
	UpdateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error)

	GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error)
	CreateJob(ctx context.Context, namespace string, spec *kubebatch.Job) (*kubebatch.Job, error)
	DeleteJob(ctx context.Context, namespace string, name string) error

	FindPods(ctx context.Context, namespace string, labelSelector LabelSelector) ([]kubecore.Pod, error)

	Log(ctx context.Context, namespace string, podname string, container string) (io.ReadCloser, error)
}

// A wrapper for the type k8s.Clientset; because it does not prefer method chain-style invocations of that type.
type k8sClient struct {
	client *k8s.Clientset
}

// type check: k8sClient implements K8sClient
var _ K8sClient = &k8sClient{}

func (k *k8sClient) GetDeployment(ctx context.Context, namespace string, deplname string) (*kubeapps.Deployment, error) {
	return k.client.AppsV1().Deployments(namespace).Get(ctx, deplname, kubeapimeta.GetOptions{})
}

func (k *k8sClient) CreateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	return k.client.AppsV1().Deployments(namespace).Create(ctx, depl, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) UpdateDeployment(ctx context.Context, namespace string, depl *kubeapps.Deployment) (*kubeapps.Deployment, error) {
	return k.client.AppsV1().Deployments(namespace).Update(ctx, depl, kubeapimeta.UpdateOptions{})
}

func (k *k8sClient) GetJob(ctx context.Context, namespace string, name string) (*kubebatch.Job, error) {
	return k.client.BatchV1().Jobs(namespace).Get(ctx, name, kubeapimeta.GetOptions{})
}

func (k *k8sClient) CreateJob(ctx context.Context, namespace string, job *kubebatch.Job) (*kubebatch.Job, error) {
	return k.client.BatchV1().Jobs(namespace).Create(ctx, job, kubeapimeta.CreateOptions{})
}

func (k *k8sClient) DeleteJob(ctx context.Context, namespace string, name string) error {
	foreground := kubeapimeta.DeletePropagationForeground
	zero := int64(0)
	return k.client.BatchV1().Jobs(namespace).Delete(ctx, name, kubeapimeta.DeleteOptions{
		GracePeriodSeconds: &zero,
		PropagationPolicy:  &foreground,
	})
}

func (k *k8sClient) FindPods(ctx context.Context, namespace string, labels LabelSelector) ([]kubecore.Pod, error) {
	resp, err := k.client.CoreV1().Pods(namespace).List(ctx, kubeapimeta.ListOptions{
		LabelSelector: labels.QueryString(),
	})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (k *k8sClient) Log(ctx context.Context, namespace string, podname string, container string) (io.ReadCloser, error) {
	return k.client.
		CoreV1().
		Pods(namespace).
		GetLogs(podname, &kubecore.PodLogOptions{Container: container, Follow: true}).
		Stream(ctx)
}

func WrapK8sClient(c *k8s.Clientset) K8sClient {
	return &k8sClient{client: c}
}

// annotations stamped on the app workload when it is driven to a manifest.
const (
	AnnotationRevision = "ship/revision"
	AnnotationSequence = "ship/sequence"
)

// Abstraction of the app workload, a k8s Deployment under delivery.
type App interface {
	Name() string
	Namespace() string

	// image the workload declares for its app container.
	Image() string

	// manifest log sequence stamped on the workload.
	//
	// `0` when the workload has never been stamped.
	Sequence() int64

	// one readiness observation of the workload.
	//
	// This value is just a SNAPSHOT of the workload when you get the instance.
	// To refresh, observe the app again.
	Sample() domain.ProbeSample

	// the raw resource this snapshot was taken from.
	//
	// It carries the resourceVersion for updates. Mutate a DeepCopy, not this.
	Resource() *kubeapps.Deployment
}

type app struct {
	resource *kubeapps.Deployment
	pods     []kubecore.Pod
	at       time.Time
}

var _ App = &app{}

func (a *app) Name() string {
	return a.resource.GetName()
}

func (a *app) Namespace() string {
	return a.resource.GetNamespace()
}

func (a *app) Image() string {
	c := appContainer(a.resource)
	if c == nil {
		return ""
	}
	return c.Image
}

func (a *app) Sequence() int64 {
	seq, err := strconv.ParseInt(a.resource.GetAnnotations()[AnnotationSequence], 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func (a *app) Resource() *kubeapps.Deployment {
	return a.resource
}

func (a *app) Sample() domain.ProbeSample {
	desired := int32(1)
	if r := a.resource.Spec.Replicas; r != nil {
		desired = *r
	}

	s := domain.ProbeSample{
		At:      a.at,
		Ready:   int(a.resource.Status.ReadyReplicas),
		Desired: int(desired),
	}

	for _, p := range a.pods {
		for _, c := range p.Status.ContainerStatuses {
			w := c.State.Waiting
			if w == nil || !fatalWaiting(w.Reason) {
				continue
			}
			s.Fatal = true
			s.Note = fmt.Sprintf("%s: %s", p.Name, w.Reason)
			return s
		}
	}

	return s
}

// the container carrying the app image.
//
// The one named as the workload, or the first one.
func appContainer(d *kubeapps.Deployment) *kubecore.Container {
	cs := d.Spec.Template.Spec.Containers
	for i := range cs {
		if cs[i].Name == d.GetName() {
			return &cs[i]
		}
	}
	if len(cs) == 0 {
		return nil
	}
	return &cs[0]
}

// waiting reasons which a pod does not come back from on its own.
func fatalWaiting(reason string) bool {
	switch reason {
	case "CrashLoopBackOff", "ImagePullBackOff", "ErrImagePull",
		"InvalidImageName", "CreateContainerConfigError":
		return true
	default:
		return false
	}
}

type JobStatus string

const (
	// no pods have been started.
	Pending JobStatus = "Pending"

	// at least one pod has started, and the job has not completed.
	Running JobStatus = "Running"

	// the job is succeeded.
	//
	// In case of parallel > 1, some pods can be failed.
	Succeeded JobStatus = "Succeeded"

	// the job is failed.
	//
	// In case of parallel, some pods can be succeeded.
	Failed JobStatus = "Failed"
)

// abstraction of k8s job.
type Job interface {
	// the name of the job
	Name() string

	// the namespace where the job is placed in
	Namespace() string

	// how does the job progress, at least
	//
	// This value is just a SNAPSHOT of the job when you get the instance.
	// To refresh, you should get a new instance of `Job` with `Cluster.GetJob`.
	//
	// # return
	//
	// - Succeeded, Failed : it is succeeded or failed as a job.
	// In case of parallel jobs, some pods can be failed/succeeded inspite of the Status().
	//
	// - Running : (At least) one pod has been started.
	// It can be no pods are running if some pods have run to be terminated
	// and more pods are pending to be started.
	//
	// - Pending : no pods have been started.
	Status() JobStatus

	//	ExitCode returns the exit code of the main container of job
	//
	// # Return
	//
	// - exitCode : the exit code of the main container.
	//
	// - reason: the reason of the termination.
	//
	// - ok : true if the job has been stopped, false otherwise.
	ExitCode(container string) (uint8, string, bool)

	// Log get log stream of the job
	//
	// # Args
	//
	// - ctx context.Context
	//
	// - containerName string: name of container to get log
	//
	// # Return
	//
	// - io.ReadCloser: the log stream of the container.
	//
	// - error : error if any.
	Log(ctx context.Context, containerName string) (io.ReadCloser, error)

	// destroy the job. If the job is running or pending, it can be aborted.
	Close() error
}

type job struct {
	job    *kubebatch.Job
	pods   []kubecore.Pod
	client K8sClient
	close  func() error
}

var _ Job = &job{}

func (j *job) Name() string {
	return j.job.Name
}

func (j *job) Namespace() string {
	return j.job.Namespace
}

func (j *job) Status() JobStatus {
	for _, sc := range j.job.Status.Conditions {
		if sc.Status != "True" {
			continue
		}
		switch sc.Type {
		case kubebatch.JobComplete:
			return Succeeded
		case kubebatch.JobFailed:
			return Failed
		}
	}

	for _, p := range j.pods {
		// if at least one pod has been run, the job has been run.
		switch p.Status.Phase {
		case kubecore.PodRunning, kubecore.PodSucceeded, kubecore.PodFailed:
			return Running
		}
	}

	return Pending
}

func (j *job) Log(ctx context.Context, containerName string) (io.ReadCloser, error) {
	if len(j.pods) == 0 {
		return nil, errors.New("no pods")
	}
	pod := j.pods[0]
	return j.client.Log(ctx, pod.Namespace, pod.Name, containerName)
}

func (j *job) ExitCode(container string) (uint8, string, bool) {
	for _, p := range j.pods {
		for _, c := range p.Status.ContainerStatuses {
			if c.Name != container {
				continue
			}
			if term := c.State.Terminated; term != nil {
				return uint8(term.ExitCode), term.Reason, true
			}
			break
		}
	}
	return 0, "", false
}

func (j *job) Close() error {
	if j.close == nil {
		return nil
	}
	return j.close()
}

type Cluster interface {
	Namespace() string
	Domain() string

	// Take one observation of the app workload, spec and pods together.
	//
	// Args
	//
	// - ctx context.Context
	//
	// - name string: name of the app workload
	//
	// Return
	//
	// - App: snapshot of the workload.
	//
	// - error: k8serrors.ErrMissing when the workload does not exist.
	Observe(ctx context.Context, name string) (App, error)

	// Create the app workload.
	//
	// Return
	//
	// - App: snapshot of the created workload.
	//
	// - error: k8serrors.ErrConflict when the workload already exists.
	NewApp(ctx context.Context, spec *kubeapps.Deployment) (App, error)

	// Replace the app workload spec in place.
	//
	// Return
	//
	// - App: snapshot of the updated workload.
	//
	// - error: k8serrors.ErrMissing when the workload does not exist,
	// k8serrors.ErrConflict when the spec is stale (edited behind our back).
	UpdateApp(ctx context.Context, spec *kubeapps.Deployment) (App, error)

	// Poll the app workload until it satisfies all requirements.
	//
	// Args
	//
	// - ctx context.Context
	//
	// - backoff retry.Backoff: backoff policy to wait for the workload satisfy all requirements.
	//
	// - name string: name of the app workload
	//
	// - requirements ...Requirement[*kubeapps.Deployment]: requirements for the workload.
	// If not given, AppHasBeenCreated is used as default.
	//
	// Return
	//
	// - retry.Promise[App]
	//
	// Promise which is resolved when the workload satisfies all requirements.
	//
	// The Promise may have Error below:
	//
	// - k8serrors.ErrMissing: the workload is not found.
	//
	// - k8serrors.ErrDeadlineExceeded: a checkpointed requirement ran out of time.
	//
	// - other errors come from Requirements and context.Context
	GetApp(context.Context, retry.Backoff, string, ...Requirement[*kubeapps.Deployment]) retry.Promise[App]

	// Create new k8s job
	//
	// Args
	//
	// - context.Context
	//
	// - backoff retry.Backoff: backoff policy to wait for Job satisfy all requirements.
	//
	// - *Job: job specification
	//
	// - requirements ...Requirement[Job]: requirements for the Job.
	// If not given, JobHaveBeenCreated is used as default.
	//
	// Return
	//
	// - retry.Promise[Job]
	//
	// Promise which is resolved when the Job is created & satisfied requirements.
	//
	// The Promise may have Error below:
	//
	// - k8serrors.ErrConflict: Job is already created.
	//
	// - k8serrors.ErrMissing: Job is missing after created until meets requirements.
	//
	// - other errors come from Requirements and context.Context
	//
	// Whether or not the Promise has Error, Job can be created.
	// So, you may need to Close() it.
	NewJob(context.Context, retry.Backoff, *kubebatch.Job, ...Requirement[*kubebatch.Job]) retry.Promise[Job]

	// Get existing k8s job
	//
	// Args
	//
	// - context.Context
	//
	// - backoff retry.Backoff: backoff policy to wait for Job satisfy all requirements.
	//
	// - string: name of job
	//
	// - requirements ...Requirement[Job]: requirements for the Job.
	// If not given, JobHaveBeenCreated is used as default.
	//
	// Return
	//
	// - retry.Promise[Job]
	//
	// Promise which is resolved when the Job is found & satisfied requirements.
	//
	// The Promise may have Error below:
	//
	// - k8serrors.ErrMissing: Job is not found.
	//
	// - other errors come from Requirements and context.Context
	//
	// Whether or not the Promise has Error, Job can be found.
	// So, you may need to Close() it.
	GetJob(context.Context, retry.Backoff, string, ...Requirement[*kubebatch.Job]) retry.Promise[Job]
}

type k8sCluster struct {
	client    K8sClient
	namespace string
	domain    string
}

// Requirement is a function that checks if a k8s resource satisfies the requirement.
//
// # Return
//
// - error: When the value satisfies the requirement, return nil.
// If it is waiting to satisfy the requirement, return `retry.ErrRetry`.
// Otherwise, return error.
type Requirement[T any] func(value T) error

func WithCheckpoint[T any](requirement Requirement[T], deadline time.Time) Requirement[T] {
	satisfied := false
	return func(value T) error {
		if satisfied {
			return nil
		}
		if time.Now().After(deadline) {
			return k8serrors.ErrDeadlineExceeded
		}

		err := requirement(value)
		if err != nil {
			return err
		}

		satisfied = true
		return nil
	}
}

func satisfyAll[T any](value T, req []Requirement[T]) error {
	for _, r := range req {
		if err := r(value); err != nil {
			return err
		}
	}
	return nil
}

// type check: k8sCluster implements Cluster
var _ Cluster = &k8sCluster{}

// Attach kubernetes cluster.
//
// args:
//   - client: k8s clientset
//   - namespace: k8s namespace
//   - domain: k8s-internal domain name. If empty string is passed, it uses `"cluster.local"` as default.
func AttachCluster(client K8sClient, namespace string, domain string) Cluster {
	if domain == "" {
		domain = "cluster.local"
	}
	return &k8sCluster{client: client, namespace: namespace, domain: domain}
}

func (c *k8sCluster) Namespace() string {
	return c.namespace
}

func (c *k8sCluster) Domain() string {
	return c.domain
}

var AppHasBeenCreated Requirement[*kubeapps.Deployment] = func(value *kubeapps.Deployment) error {
	return nil
}

// satisfied when the workload declares the image of the manifest
// and the controller has observed that spec.
func AppPointsAt(m domain.Manifest) Requirement[*kubeapps.Deployment] {
	return func(value *kubeapps.Deployment) error {
		c := appContainer(value)
		if c == nil || c.Image != m.Image {
			return retry.ErrRetry
		}
		if value.Status.ObservedGeneration < value.Generation {
			return retry.ErrRetry
		}
		return nil
	}
}

// satisfied when all wanted replicas are updated and ready.
var AppHasSettled Requirement[*kubeapps.Deployment] = func(value *kubeapps.Deployment) error {
	replicas := int32(1)
	if value.Spec.Replicas != nil {
		replicas = *value.Spec.Replicas
	}
	if value.Status.UpdatedReplicas < replicas {
		return retry.ErrRetry
	}
	if value.Status.ReadyReplicas < replicas {
		return retry.ErrRetry
	}
	return nil
}

func (c *k8sCluster) Observe(ctx context.Context, name string) (App, error) {
	depl, err := c.client.GetDeployment(ctx, c.namespace, name)
	if err != nil {
		if kubeerr.IsNotFound(err) {
			return nil, k8serrors.NewMissingCausedBy("", err)
		}
		return nil, err
	}
	return c.observed(ctx, depl), nil
}

// pack the workload spec with its pods.
func (c *k8sCluster) observed(ctx context.Context, depl *kubeapps.Deployment) App {
	a := &app{resource: depl, at: time.Now()}
	if sel := depl.Spec.Selector; sel != nil {
		pods, err := c.client.FindPods(ctx, c.namespace, LabelsToSelector(sel.MatchLabels))
		if err == nil {
			a.pods = pods
		}
	}
	return a
}

func (c *k8sCluster) NewApp(ctx context.Context, spec *kubeapps.Deployment) (App, error) {
	depl, err := c.client.CreateDeployment(ctx, c.namespace, spec)
	if err != nil {
		if kubeerr.IsAlreadyExists(err) {
			return nil, k8serrors.NewConflictCausedBy("", err)
		}
		return nil, err
	}
	return &app{resource: depl, at: time.Now()}, nil
}

func (c *k8sCluster) UpdateApp(ctx context.Context, spec *kubeapps.Deployment) (App, error) {
	depl, err := c.client.UpdateDeployment(ctx, c.namespace, spec)
	if err != nil {
		switch {
		case kubeerr.IsNotFound(err):
			return nil, k8serrors.NewMissingCausedBy("", err)
		case kubeerr.IsConflict(err):
			return nil, k8serrors.NewConflictCausedBy("", err)
		}
		return nil, err
	}
	return &app{resource: depl, at: time.Now()}, nil
}

func (c *k8sCluster) GetApp(
	ctx context.Context, backoff retry.Backoff, name string,
	requirements ...Requirement[*kubeapps.Deployment],
) retry.Promise[App] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubeapps.Deployment]{AppHasBeenCreated}
	}

	return retry.Go(ctx, backoff, func() (App, error) {
		depl, err := c.client.GetDeployment(ctx, c.namespace, name)
		if err != nil {
			if kubeerr.IsNotFound(err) {
				return nil, k8serrors.NewMissingCausedBy("", err)
			}
			return nil, err
		}

		if err := satisfyAll(depl, requirements); err != nil {
			return nil, err
		}
		return c.observed(ctx, depl), nil
	})
}

var JobHaveBeenCreated Requirement[*kubebatch.Job] = func(value *kubebatch.Job) error {
	return nil
}

// satisfied when the job has come to a conclusion, either way.
var JobHasConcluded Requirement[*kubebatch.Job] = func(value *kubebatch.Job) error {
	for _, cond := range value.Status.Conditions {
		if cond.Status != "True" {
			continue
		}
		switch cond.Type {
		case kubebatch.JobComplete, kubebatch.JobFailed:
			return nil
		}
	}
	return retry.ErrRetry
}

func (c *k8sCluster) podsOf(ctx context.Context, j *kubebatch.Job) []kubecore.Pod {
	sel := j.Spec.Selector
	if sel == nil {
		return nil
	}
	pods, err := c.client.FindPods(ctx, c.namespace, LabelsToSelector(sel.MatchLabels))
	if err != nil {
		return nil
	}
	return pods
}

func (c *k8sCluster) NewJob(
	ctx context.Context, backoff retry.Backoff, spec *kubebatch.Job,
	requirements ...Requirement[*kubebatch.Job],
) retry.Promise[Job] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubebatch.Job]{JobHaveBeenCreated}
	}

	select {
	case <-ctx.Done():
		return retry.Failed[Job](ctx.Err())
	default:
	}

	_job, err := c.client.CreateJob(ctx, c.namespace, spec)
	if err != nil {
		if kubeerr.IsAlreadyExists(err) {
			return retry.Failed[Job](k8serrors.NewConflictCausedBy("", err))
		}
		return retry.Failed[Job](err)
	}
	_close := func() error {
		return c.client.DeleteJob(
			context.Background(), // close should run if given has closed.
			c.namespace,
			_job.ObjectMeta.Name,
		)
	}

	if err := satisfyAll(_job, requirements); err == nil {
		pods := c.podsOf(ctx, _job)
		return retry.Ok[Job](&job{job: _job, pods: pods, client: c.client, close: _close})
	} else if !errors.Is(err, retry.ErrRetry) {
		return retry.Failed[Job](err)
	}

	return c.GetJob(ctx, backoff, _job.ObjectMeta.Name, requirements...)
}

func (c *k8sCluster) GetJob(
	ctx context.Context, backoff retry.Backoff, name string,
	requirements ...Requirement[*kubebatch.Job],
) retry.Promise[Job] {
	if len(requirements) == 0 {
		requirements = []Requirement[*kubebatch.Job]{JobHaveBeenCreated}
	}
	_close := func() error {
		return c.client.DeleteJob(context.Background(), c.namespace, name)
	}

	return retry.Go(ctx, backoff, func() (Job, error) {
		_job, err := c.client.GetJob(ctx, c.namespace, name)
		ret := &job{
			job: _job, close: _close, client: c.client,
		}

		if err != nil {
			if kubeerr.IsNotFound(err) {
				return ret, k8serrors.NewMissingCausedBy("", err)
			}
			return ret, err
		}

		if err := satisfyAll(_job, requirements); err != nil {
			return ret, err
		}

		ret.pods = c.podsOf(ctx, _job)
		return ret, nil
	})
}

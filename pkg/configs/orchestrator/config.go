package orchestrator

import (
	"time"
)

// Trigger authentication modes.
const (
	TriggerModeSecret = "secret"
	TriggerModeHMAC   = "hmac"
	TriggerModeToken  = "token"
)

// Manifest store backends.
const (
	ManifestStorePostgres = "postgres"
	ManifestStoreGit      = "git"
)

type OrchestratorConfig struct {
	port     int32
	cluster  *ShipClusterConfig
	registry *RegistryConfig
	trigger  *TriggerConfig
	pipeline *PipelineConfig
	manifest *ManifestStoreConfig
	notifier *NotifierConfig
}

func (c *OrchestratorConfig) Port() int32 {
	return c.port
}

func (c *OrchestratorConfig) Cluster() *ShipClusterConfig {
	return c.cluster
}

func (c *OrchestratorConfig) Registry() *RegistryConfig {
	return c.registry
}

func (c *OrchestratorConfig) Trigger() *TriggerConfig {
	return c.trigger
}

func (c *OrchestratorConfig) Pipeline() *PipelineConfig {
	return c.pipeline
}

func (c *OrchestratorConfig) Manifest() *ManifestStoreConfig {
	return c.manifest
}

func (c *OrchestratorConfig) Notifier() *NotifierConfig {
	return c.notifier
}

// Configuration for Ship cluster.
//
// to get `ShipClusterConfig` instance, use `ShipClusterConfigMarshall.TrySeal()` .
type ShipClusterConfig struct {
	namespace string
	domain    string
	database  string
	app       *AppConfig
	builder   *BuilderConfig
}

// k8s namespace where the target workload and builder jobs live.
func (k *ShipClusterConfig) Namespace() string {
	return k.namespace
}

// k8s domain of the cluster. default = "cluster.local"
func (k *ShipClusterConfig) Domain() string {
	return k.domain
}

// Connection string for database.
func (k *ShipClusterConfig) Database() string {
	return k.database
}

// Configuration for the deployed application workload.
func (k *ShipClusterConfig) App() *AppConfig {
	return k.app
}

// Configuration for builder jobs.
func (k *ShipClusterConfig) Builder() *BuilderConfig {
	return k.builder
}

// The application workload driven by the orchestrator.
type AppConfig struct {
	name     string
	replicas int32
}

// Name of the Deployment resource (and of its main container).
func (a *AppConfig) Name() string {
	return a.name
}

// How many replicas the workload should run. default = 1
func (a *AppConfig) Replicas() int32 {
	return a.replicas
}

type BuilderConfig struct {
	image          string
	serviceAccount string
	pushSecret     string
	timeout        time.Duration
	args           []string
}

// Which image should be used as the builder tool.
func (b *BuilderConfig) Image() string {
	return b.image
}

func (b *BuilderConfig) ServiceAccount() string {
	return b.serviceAccount
}

// Name of the secret holding registry push credentials.
// Empty means the builder pushes unauthenticated.
func (b *BuilderConfig) PushSecret() string {
	return b.pushSecret
}

// How long a single build may take before it is given up. default = 10m
func (b *BuilderConfig) Timeout() time.Duration {
	return b.timeout
}

// Extra arguments passed to the builder tool, before the generated ones.
func (b *BuilderConfig) Args() []string {
	return b.args
}

type RegistryConfig struct {
	repository string
	username   string
	password   string
	insecure   bool
}

// Image repository artifacts are tagged into, e.g. "registry.example.com/hello-app".
func (r *RegistryConfig) Repository() string {
	return r.repository
}

func (r *RegistryConfig) Username() string {
	return r.username
}

func (r *RegistryConfig) Password() string {
	return r.password
}

// Allow plain http access to the registry.
func (r *RegistryConfig) Insecure() bool {
	return r.insecure
}

// How webhook calls prove who they are.
type TriggerConfig struct {
	mode     string
	secret   string
	issuer   string
	audience string
}

// One of TriggerModeSecret, TriggerModeHMAC, TriggerModeToken.
func (t *TriggerConfig) Mode() string {
	return t.mode
}

func (t *TriggerConfig) Secret() string {
	return t.secret
}

// Expected token issuer. Checked only in TriggerModeToken, and only when set.
func (t *TriggerConfig) Issuer() string {
	return t.issuer
}

// Expected token audience. Checked only in TriggerModeToken, and only when set.
func (t *TriggerConfig) Audience() string {
	return t.audience
}

// Tunables of the deployment pipeline. Every field has a default,
// so the whole section may be omitted from the config file.
type PipelineConfig struct {
	queue  *QueueConfig
	build  *BuildPolicyConfig
	sync   *SyncPolicyConfig
	health *HealthPolicyConfig
}

func (p *PipelineConfig) Queue() *QueueConfig {
	return p.queue
}

func (p *PipelineConfig) Build() *BuildPolicyConfig {
	return p.build
}

func (p *PipelineConfig) Sync() *SyncPolicyConfig {
	return p.sync
}

func (p *PipelineConfig) Health() *HealthPolicyConfig {
	return p.health
}

type QueueConfig struct {
	capacity     int
	dedupeWindow time.Duration
}

// How many accepted requests may wait for the pipeline. default = 64
func (q *QueueConfig) Capacity() int {
	return q.capacity
}

// Requests for a same revision arriving within this window are dropped
// as duplicates. default = 60s
func (q *QueueConfig) DedupeWindow() time.Duration {
	return q.dedupeWindow
}

type BuildPolicyConfig struct {
	retries int
	backoff time.Duration
}

// How many times a transient build failure is retried. default = 2
func (b *BuildPolicyConfig) Retries() int {
	return b.retries
}

// Initial interval of the exponential backoff between retries. default = 5s
func (b *BuildPolicyConfig) Backoff() time.Duration {
	return b.backoff
}

type SyncPolicyConfig struct {
	interval time.Duration
	timeout  time.Duration
}

// How often the cluster is polled for convergence. default = 5s
func (s *SyncPolicyConfig) Interval() time.Duration {
	return s.interval
}

// How long convergence may take before the sync is declared diverged. default = 5m
func (s *SyncPolicyConfig) Timeout() time.Duration {
	return s.timeout
}

type HealthPolicyConfig struct {
	window    time.Duration
	threshold float64
	floor     float64
}

// How long the workload is observed after convergence. default = 30s
func (h *HealthPolicyConfig) Window() time.Duration {
	return h.window
}

// Ready ratio which must hold for the whole window. default = 1.0
func (h *HealthPolicyConfig) Threshold() float64 {
	return h.threshold
}

// Ready ratio below which the deployment is unhealthy at once. default = 0.5
func (h *HealthPolicyConfig) Floor() float64 {
	return h.floor
}

type ManifestStoreConfig struct {
	store string
	git   *GitStoreConfig
}

// One of ManifestStorePostgres, ManifestStoreGit. default = postgres
func (m *ManifestStoreConfig) Store() string {
	return m.store
}

// Set only when Store() == ManifestStoreGit.
func (m *ManifestStoreConfig) Git() *GitStoreConfig {
	return m.git
}

type GitStoreConfig struct {
	path        string
	authorName  string
	authorEmail string
}

// Path of the manifest repository worktree.
func (g *GitStoreConfig) Path() string {
	return g.path
}

func (g *GitStoreConfig) AuthorName() string {
	return g.authorName
}

func (g *GitStoreConfig) AuthorEmail() string {
	return g.authorEmail
}

type NotifierConfig struct {
	sinks  []string
	buffer int
}

// URLs transition events are POSTed to.
func (n *NotifierConfig) Sinks() []string {
	return n.sinks
}

// How many events may wait for delivery before new ones are dropped. default = 256
func (n *NotifierConfig) Buffer() int {
	return n.buffer
}

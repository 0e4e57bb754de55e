package orchestrator

import (
	"fmt"
	"time"
)

type Marshalled[S any] interface {
	trySeal(string) S
}

// seal marshalled object.
//
// this function CAN CAUSE PANIC if misconfiguration is found.
//
// All types named `pkg/configs/orchestrator.XxxMarshall` are `Marshalled[*Xxx]` .
func TrySeal[S any](conf Marshalled[S]) S {
	return conf.trySeal("(root)")
}

// Configuration of the orchestrator daemon.
//
// This type is marshalling value and mutable.
// Consider to use immutable version, `OrchestratorConfig`.
// You can get `OrchestratorConfig` instance with `OrchestratorConfigMarshall.TrySeal()`
type OrchestratorConfigMarshall struct {
	Port     int32                        `yaml:"port"`
	Cluster  *ShipClusterConfigMarshall   `yaml:"cluster"`
	Registry *RegistryConfigMarshall      `yaml:"registry"`
	Trigger  *TriggerConfigMarshall       `yaml:"trigger"`
	Pipeline *PipelineConfigMarshall      `yaml:"pipeline,omitempty"`
	Manifest *ManifestStoreConfigMarshall `yaml:"manifest,omitempty"`
	Notifier *NotifierConfigMarshall      `yaml:"notifier,omitempty"`
}

var _ Marshalled[*OrchestratorConfig] = &OrchestratorConfigMarshall{}

// verify configuration value and create "readonly" version of this.
//
// IT WILL PANIC if any misconfiguration is found.
func (om *OrchestratorConfigMarshall) TrySeal() *OrchestratorConfig {
	return om.trySeal("(root)")
}

func (om *OrchestratorConfigMarshall) trySeal(path string) *OrchestratorConfig {
	return &OrchestratorConfig{
		port:     required(om.Port, path+".port"),
		cluster:  nonnil(om.Cluster, path+".cluster").trySeal(path + ".cluster"),
		registry: nonnil(om.Registry, path+".registry").trySeal(path + ".registry"),
		trigger:  nonnil(om.Trigger, path+".trigger").trySeal(path + ".trigger"),
		pipeline: fallback(om.Pipeline).trySeal(path + ".pipeline"),
		manifest: fallback(om.Manifest).trySeal(path + ".manifest"),
		notifier: fallback(om.Notifier).trySeal(path + ".notifier"),
	}
}

type ShipClusterConfigMarshall struct {
	Namespace string                 `yaml:"namespace"`
	Domain    string                 `yaml:"domain,omitempty"`
	Database  string                 `yaml:"database"`
	App       *AppConfigMarshall     `yaml:"app"`
	Builder   *BuilderConfigMarshall `yaml:"builder"`
}

func (km *ShipClusterConfigMarshall) trySeal(path string) *ShipClusterConfig {
	domain := km.Domain
	if domain == "" {
		domain = "cluster.local"
	}
	return &ShipClusterConfig{
		namespace: required(km.Namespace, path+".namespace"),
		domain:    required(domain, path+".domain"),
		database:  required(km.Database, path+".database"),
		app:       nonnil(km.App, path+".app").trySeal(path + ".app"),
		builder:   nonnil(km.Builder, path+".builder").trySeal(path + ".builder"),
	}
}

type AppConfigMarshall struct {
	Name     string `yaml:"name"`
	Replicas int32  `yaml:"replicas,omitempty"`
}

func (am *AppConfigMarshall) trySeal(path string) *AppConfig {
	replicas := am.Replicas
	if replicas == 0 {
		replicas = 1
	}
	if replicas < 0 {
		panic(path + ".replicas should be positive")
	}
	return &AppConfig{
		name:     required(am.Name, path+".name"),
		replicas: replicas,
	}
}

type BuilderConfigMarshall struct {
	Image          string   `yaml:"image"`
	ServiceAccount string   `yaml:"serviceAccount,omitempty"`
	PushSecret     string   `yaml:"pushSecret,omitempty"`
	Timeout        string   `yaml:"timeout,omitempty"`
	Args           []string `yaml:"args,omitempty"`
}

func (bm *BuilderConfigMarshall) trySeal(path string) *BuilderConfig {
	return &BuilderConfig{
		image:          required(bm.Image, path+".image"),
		serviceAccount: bm.ServiceAccount,
		pushSecret:     bm.PushSecret,
		timeout:        duration(bm.Timeout, 10*time.Minute, path+".timeout"),
		args:           bm.Args,
	}
}

type RegistryConfigMarshall struct {
	Repository string `yaml:"repository"`
	Username   string `yaml:"username,omitempty"`
	Password   string `yaml:"password,omitempty"`
	Insecure   bool   `yaml:"insecure,omitempty"`
}

func (rm *RegistryConfigMarshall) trySeal(path string) *RegistryConfig {
	return &RegistryConfig{
		repository: required(rm.Repository, path+".repository"),
		username:   rm.Username,
		password:   rm.Password,
		insecure:   rm.Insecure,
	}
}

type TriggerConfigMarshall struct {
	Mode     string `yaml:"mode"`
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer,omitempty"`
	Audience string `yaml:"audience,omitempty"`
}

func (tm *TriggerConfigMarshall) trySeal(path string) *TriggerConfig {
	mode := required(tm.Mode, path+".mode")
	switch mode {
	case TriggerModeSecret, TriggerModeHMAC, TriggerModeToken:
	default:
		panic(fmt.Sprintf(
			"%s.mode should be one of %q, %q or %q",
			path, TriggerModeSecret, TriggerModeHMAC, TriggerModeToken,
		))
	}
	return &TriggerConfig{
		mode:     mode,
		secret:   required(tm.Secret, path+".secret"),
		issuer:   tm.Issuer,
		audience: tm.Audience,
	}
}

type PipelineConfigMarshall struct {
	Queue  *QueueConfigMarshall        `yaml:"queue,omitempty"`
	Build  *BuildPolicyConfigMarshall  `yaml:"build,omitempty"`
	Sync   *SyncPolicyConfigMarshall   `yaml:"sync,omitempty"`
	Health *HealthPolicyConfigMarshall `yaml:"health,omitempty"`
}

func (pm *PipelineConfigMarshall) trySeal(path string) *PipelineConfig {
	return &PipelineConfig{
		queue:  fallback(pm.Queue).trySeal(path + ".queue"),
		build:  fallback(pm.Build).trySeal(path + ".build"),
		sync:   fallback(pm.Sync).trySeal(path + ".sync"),
		health: fallback(pm.Health).trySeal(path + ".health"),
	}
}

type QueueConfigMarshall struct {
	Capacity     int    `yaml:"capacity,omitempty"`
	DedupeWindow string `yaml:"dedupeWindow,omitempty"`
}

func (qm *QueueConfigMarshall) trySeal(path string) *QueueConfig {
	capacity := qm.Capacity
	if capacity == 0 {
		capacity = 64
	}
	if capacity < 0 {
		panic(path + ".capacity should be positive")
	}
	return &QueueConfig{
		capacity:     capacity,
		dedupeWindow: duration(qm.DedupeWindow, 60*time.Second, path+".dedupeWindow"),
	}
}

type BuildPolicyConfigMarshall struct {
	Retries *int   `yaml:"retries,omitempty"`
	Backoff string `yaml:"backoff,omitempty"`
}

func (bm *BuildPolicyConfigMarshall) trySeal(path string) *BuildPolicyConfig {
	retries := 2
	if bm.Retries != nil {
		retries = *bm.Retries
	}
	if retries < 0 {
		panic(path + ".retries should not be negative")
	}
	return &BuildPolicyConfig{
		retries: retries,
		backoff: duration(bm.Backoff, 5*time.Second, path+".backoff"),
	}
}

type SyncPolicyConfigMarshall struct {
	Interval string `yaml:"interval,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
}

func (sm *SyncPolicyConfigMarshall) trySeal(path string) *SyncPolicyConfig {
	return &SyncPolicyConfig{
		interval: duration(sm.Interval, 5*time.Second, path+".interval"),
		timeout:  duration(sm.Timeout, 5*time.Minute, path+".timeout"),
	}
}

type HealthPolicyConfigMarshall struct {
	Window    string   `yaml:"window,omitempty"`
	Threshold *float64 `yaml:"threshold,omitempty"`
	Floor     *float64 `yaml:"floor,omitempty"`
}

func (hm *HealthPolicyConfigMarshall) trySeal(path string) *HealthPolicyConfig {
	threshold := ratio(hm.Threshold, 1.0, path+".threshold")
	floor := ratio(hm.Floor, 0.5, path+".floor")
	if threshold < floor {
		panic(path + ".floor should not exceed " + path + ".threshold")
	}
	return &HealthPolicyConfig{
		window:    duration(hm.Window, 30*time.Second, path+".window"),
		threshold: threshold,
		floor:     floor,
	}
}

type ManifestStoreConfigMarshall struct {
	Store string                  `yaml:"store,omitempty"`
	Git   *GitStoreConfigMarshall `yaml:"git,omitempty"`
}

func (mm *ManifestStoreConfigMarshall) trySeal(path string) *ManifestStoreConfig {
	store := mm.Store
	if store == "" {
		store = ManifestStorePostgres
	}
	switch store {
	case ManifestStorePostgres:
		return &ManifestStoreConfig{store: store}
	case ManifestStoreGit:
		return &ManifestStoreConfig{
			store: store,
			git:   nonnil(mm.Git, path+".git").trySeal(path + ".git"),
		}
	default:
		panic(fmt.Sprintf(
			"%s.store should be one of %q or %q",
			path, ManifestStorePostgres, ManifestStoreGit,
		))
	}
}

type GitStoreConfigMarshall struct {
	Path        string `yaml:"path"`
	AuthorName  string `yaml:"authorName,omitempty"`
	AuthorEmail string `yaml:"authorEmail,omitempty"`
}

func (gm *GitStoreConfigMarshall) trySeal(path string) *GitStoreConfig {
	name := gm.AuthorName
	if name == "" {
		name = "shipd"
	}
	email := gm.AuthorEmail
	if email == "" {
		email = "shipd@localhost"
	}
	return &GitStoreConfig{
		path:        required(gm.Path, path+".path"),
		authorName:  name,
		authorEmail: email,
	}
}

type NotifierConfigMarshall struct {
	Sinks  []string `yaml:"sinks,omitempty"`
	Buffer int      `yaml:"buffer,omitempty"`
}

func (nm *NotifierConfigMarshall) trySeal(path string) *NotifierConfig {
	buffer := nm.Buffer
	if buffer == 0 {
		buffer = 256
	}
	if buffer < 0 {
		panic(path + ".buffer should be positive")
	}
	return &NotifierConfig{
		sinks:  nm.Sinks,
		buffer: buffer,
	}
}

func nonnil[T any](v *T, path string) *T {
	if v == nil {
		panic(path + " is required")
	}
	return v
}

func required[T comparable](v T, path string) T {
	if v == *new(T) {
		panic(path + " is required")
	}
	return v
}

// fallback substitutes an empty section for an omitted one,
// so that its defaults apply.
func fallback[T any](v *T) *T {
	if v == nil {
		return new(T)
	}
	return v
}

func duration(v string, def time.Duration, path string) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("%s can not be parsed as duration: %w", path, err))
	}
	return d
}

func ratio(v *float64, def float64, path string) float64 {
	if v == nil {
		return def
	}
	if *v < 0 || 1 < *v {
		panic(path + " should be in range [0, 1]")
	}
	return *v
}

// domain package contains the Domain Models and Interfaces for the Shipfab application.
//
// `domain/shipfab` package exposes the root object for the Shipfab application.
// Entrypoints of applications should instantiate the Shipfab object and use it to interact with the domain.
//
// `domain/ENTITY.go` has high-level entities (Domain Model types) and functions.
// For example, `domain/deployment.go` contains the `Deployment` entity.
//
// `domain/ENTITY` directory contains the "physical" representation of the domain entities, the RDB, git or Kubernetes(k8s).
// For example, `domain/manifest/db/postgres` contains the database expression of the manifest log described in `domain/manifest.go`,
// and `domain/manifest/db/git` contains the git expression of it.
//
// `domain/ENTITY/interface.go` exposes the client interface to handle the domain entity in DB/k8s.
//
// # Entities
//
// Core entities in the domain are:
//
// - `deployment`: An attempt to bring a pushed source revision into the cluster.
// Each attempt walks the pipeline received -> building -> built -> manifest-updated ->
// syncing -> verifying and concludes as deployed, deployed-as-rollback or aborted.
// Webhook deliveries for a revision already in flight coalesce into the existing attempt.
//
// - `build`: Record of turning a source revision into a container image.
// The artifact tag is derived from the revision, so rebuilding the same revision is
// a no-op once the image exists in the registry.
//
// - `manifest`: Append-only log of desired-state documents. Each entry points at
// the artifact for one revision and carries a strictly increasing sequence number.
// The head of the log is what the sync controller drives the cluster towards.
// Compare-and-set on the head keeps concurrent writers from losing entries.
//
// - `eventlog`: Append-only record of state transitions per attempt, for audit
// and for the (fire-and-forget) event sink.
//
// And others:
//
// - `orchestrator`: The engine gluing the entities together. Owns the intake queue,
// the revision dedupe window and the supersede registry (a newer revision cancels
// the sync/verify of an older one).
//
// - `sync`, `health`, `rollback`: The controllers acting on the cluster. They live
// under `domain/` because "how a revision becomes live" is part of the model.
package domain

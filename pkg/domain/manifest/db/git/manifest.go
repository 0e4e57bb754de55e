package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"gopkg.in/yaml.v3"

	types "github.com/opst/shipfab/pkg/domain"
	domerr "github.com/opst/shipfab/pkg/domain/errors"
	kdb "github.com/opst/shipfab/pkg/domain/manifest/db"
	"github.com/opst/shipfab/pkg/utils/slices"
)

const (
	// the rendered head document, what a cluster agent consumes.
	manifestFile = "manifest.yaml"

	// the append-only log behind it.
	revisionsFile = "revisions.yaml"
)

// Signature identifies the committer of manifest writes.
type Signature struct {
	Name  string
	Email string
}

func (s Signature) orDefault() Signature {
	if s.Name == "" {
		s.Name = "shipd"
	}
	if s.Email == "" {
		s.Email = "shipd@localhost"
	}
	return s
}

// gitManifest is a manifest log backed by a git repository.
//
// Each write is one commit touching manifest.yaml (the rendered head)
// and revisions.yaml (the log). The log in the worktree is the source
// of truth; git history keeps the audit trail for free.
type gitManifest struct {
	mu   sync.Mutex
	wt   *gogit.Worktree
	app  string
	who  Signature
	seal func() time.Time
}

// New wraps an opened git repository as a manifest log.
//
// # Args
//
// - repo: the repository. It must have a worktree (not bare).
//
// - app: application name rendered into manifest.yaml.
//
// - who: committer of manifest writes.
func New(repo *gogit.Repository, app string, who Signature) (kdb.Interface, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	return &gitManifest{
		wt: wt, app: app, who: who.orDefault(), seal: time.Now,
	}, nil
}

// Open opens (or initializes) a git repository at path as a manifest log.
func Open(path string, app string, who Signature) (kdb.Interface, error) {
	repo, err := gogit.PlainOpen(path)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		repo, err = gogit.PlainInit(path, false)
	}
	if err != nil {
		return nil, err
	}
	return New(repo, app, who)
}

// NewInMemory creates a manifest log in an in-memory repository.
//
// Nothing survives the process. Meant for tests and dry runs.
func NewInMemory(app string, who Signature) (kdb.Interface, error) {
	repo, err := gogit.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		return nil, err
	}
	return New(repo, app, who)
}

// entry of revisions.yaml.
type record struct {
	Sequence         int64     `yaml:"sequence"`
	RevisionID       string    `yaml:"revision"`
	ArtifactTag      string    `yaml:"image"`
	PreviousSequence int64     `yaml:"previousSequence"`
	Author           string    `yaml:"author"`
	CreatedAt        time.Time `yaml:"createdAt"`
	Health           string    `yaml:"health"`
}

func (r record) Body() (types.ManifestRevision, error) {
	health, err := types.AsHealthState(r.Health)
	if err != nil {
		return types.ManifestRevision{}, err
	}
	return types.ManifestRevision{
		Sequence:         r.Sequence,
		RevisionID:       r.RevisionID,
		ArtifactTag:      r.ArtifactTag,
		PreviousSequence: r.PreviousSequence,
		Author:           r.Author,
		CreatedAt:        r.CreatedAt,
		Health:           health,
	}, nil
}

func asRecord(mr types.ManifestRevision) record {
	return record{
		Sequence:         mr.Sequence,
		RevisionID:       mr.RevisionID,
		ArtifactTag:      mr.ArtifactTag,
		PreviousSequence: mr.PreviousSequence,
		Author:           mr.Author,
		CreatedAt:        mr.CreatedAt,
		Health:           mr.Health.String(),
	}
}

func (g *gitManifest) Put(ctx context.Context, param kdb.PutParam) (types.ManifestRevision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	records, err := g.load()
	if err != nil {
		return types.ManifestRevision{}, err
	}

	head := int64(0)
	if 0 < len(records) {
		head = records[len(records)-1].Sequence
	}
	if head != param.ExpectedHead {
		return types.ManifestRevision{}, fmt.Errorf(
			"%w: expected head %d, but %d", types.ErrWriteConflict, param.ExpectedHead, head,
		)
	}

	entry := types.ManifestRevision{
		Sequence:         head + 1,
		RevisionID:       param.RevisionID,
		ArtifactTag:      param.ArtifactTag,
		PreviousSequence: param.ExpectedHead,
		Author:           param.Author,
		CreatedAt:        g.seal().Truncate(time.Second),
		Health:           types.HealthUnknown,
	}
	records = append(records, asRecord(entry))

	if err := g.commit(
		records, &entry,
		fmt.Sprintf("deploy %s (seq %d)", entry.RevisionID, entry.Sequence),
	); err != nil {
		return types.ManifestRevision{}, err
	}
	return entry, nil
}

func (g *gitManifest) Head(ctx context.Context) (*types.ManifestRevision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	records, err := g.load()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	entry, err := records[len(records)-1].Body()
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (g *gitManifest) Get(ctx context.Context, sequence []int64) (map[int64]types.ManifestRevision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	records, err := g.load()
	if err != nil {
		return nil, err
	}

	wanted := map[int64]struct{}{}
	for _, seq := range sequence {
		wanted[seq] = struct{}{}
	}

	ret := map[int64]types.ManifestRevision{}
	for _, r := range records {
		if _, ok := wanted[r.Sequence]; !ok {
			continue
		}
		entry, err := r.Body()
		if err != nil {
			return nil, err
		}
		ret[entry.Sequence] = entry
	}
	return ret, nil
}

func (g *gitManifest) History(ctx context.Context, since int64) ([]types.ManifestRevision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	records, err := g.load()
	if err != nil {
		return nil, err
	}
	return slices.TryMap(
		slices.Filter(records, func(r record) bool { return since <= r.Sequence }),
		record.Body,
	)
}

func (g *gitManifest) LastHealthy(ctx context.Context, before int64) (*types.ManifestRevision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	records, err := g.load()
	if err != nil {
		return nil, err
	}

	for i := len(records) - 1; 0 <= i; i-- {
		if before <= records[i].Sequence {
			continue
		}
		entry, err := records[i].Body()
		if err != nil {
			return nil, err
		}
		if entry.Health.Restorable() {
			return &entry, nil
		}
	}
	return nil, fmt.Errorf(
		"%w: no healthy entry below sequence %d", domerr.ErrMissing, before,
	)
}

func (g *gitManifest) MarkHealth(ctx context.Context, sequence int64, health types.HealthState) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	records, err := g.load()
	if err != nil {
		return err
	}

	for i, r := range records {
		if r.Sequence != sequence {
			continue
		}
		cur, err := types.AsHealthState(r.Health)
		if err != nil {
			return err
		}
		if cur != types.HealthUnknown {
			return types.NewErrInvalidHealthChanging(cur, health)
		}

		records[i].Health = health.String()
		return g.commit(
			records, nil,
			fmt.Sprintf("mark seq %d %s", sequence, health),
		)
	}
	return fmt.Errorf("%w: no entry has sequence %d", domerr.ErrMissing, sequence)
}

func (g *gitManifest) load() ([]record, error) {
	f, err := g.wt.Filesystem.Open(revisionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	records := []record{}
	if err := yaml.Unmarshal(buf, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// commit writes the log (and, when head is given, the rendered head
// document) into the worktree, then commits.
func (g *gitManifest) commit(records []record, head *types.ManifestRevision, message string) error {
	buf, err := yaml.Marshal(records)
	if err != nil {
		return err
	}
	if err := g.write(revisionsFile, buf); err != nil {
		return err
	}

	if head != nil {
		doc, err := yaml.Marshal(head.Document(g.app))
		if err != nil {
			return err
		}
		if err := g.write(manifestFile, doc); err != nil {
			return err
		}
	}

	when := g.seal()
	_, err = g.wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name: g.who.Name, Email: g.who.Email, When: when,
		},
		Committer: &object.Signature{
			Name: g.who.Name, Email: g.who.Email, When: when,
		},
	})
	return err
}

func (g *gitManifest) write(path string, buf []byte) error {
	f, err := g.wt.Filesystem.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	_, err = g.wt.Add(path)
	return err
}

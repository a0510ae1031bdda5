package bridge

import (
	"github.com/sirupsen/logrus"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/windvcs/wind/internal/mapdb"
	"github.com/windvcs/wind/internal/objectstore"
	"github.com/windvcs/wind/pkg/model"
)

// Report summarizes one sync run. A divergence means both sides grew new
// unmapped history from the same branch tip; it is reported and left for a
// merge, never reconciled automatically.
type Report struct {
	Imported    int
	Exported    int
	Divergences []string

	// Tips after the run, for the caller to move its branch pointers.
	GitHead  plumbing.Hash
	WindHead model.Oid
}

// Coordinator drives importer and exporter for one branch at a time.
type Coordinator struct {
	repo     *git.Repository
	db       *mapdb.DB
	importer *Importer
	exporter *Exporter
	log      *logrus.Logger
}

func NewCoordinator(repo *git.Repository, store *objectstore.Store, db *mapdb.DB, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Coordinator{
		repo:     repo,
		db:       db,
		importer: NewImporter(repo, store, db, logger),
		exporter: NewExporter(repo, store, db, logger),
		log:      logger,
	}
}

// SyncBranch reconciles one branch between the two histories. gitHead is the
// Git tip (zero when the branch does not exist on the Git side), windHead the
// changeset tip (zero likewise). Whichever side has unmapped history is
// replayed onto the other; when both do, the branch has diverged.
func (c *Coordinator) SyncBranch(name string, gitHead plumbing.Hash, windHead model.Oid) (*Report, error) {
	report := &Report{GitHead: gitHead, WindHead: windHead}

	gitNew := !gitHead.IsZero() && !c.hasSha(gitHead)
	windNew := !windHead.IsZero() && !c.hasOid(windHead)

	switch {
	case gitNew && windNew:
		report.Divergences = append(report.Divergences, name)
		c.log.WithField("branch", name).Warn("branch diverged, not syncing")

	case gitNew:
		n, err := c.importer.ImportBranch(gitHead)
		if err != nil {
			return report, err
		}
		report.Imported = n
		oid, err := c.db.WindOid(gitHead.String())
		if err != nil {
			return report, err
		}
		report.WindHead = oid

	case windNew:
		n, tip, err := c.exporter.ExportChangeset(windHead)
		if err != nil {
			return report, err
		}
		report.Exported = n
		report.GitHead = tip
		ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), tip)
		if err := c.repo.Storer.SetReference(ref); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (c *Coordinator) hasSha(h plumbing.Hash) bool {
	has := false
	_ = c.db.View(func(t *mapdb.Txn) error {
		has = t.HasSha(h.String())
		return nil
	})
	return has
}

func (c *Coordinator) hasOid(oid model.Oid) bool {
	has := false
	_ = c.db.View(func(t *mapdb.Txn) error {
		has = t.HasOid(oid)
		return nil
	})
	return has
}

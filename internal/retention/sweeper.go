// Package retention deletes snapshot artifacts that have outlived the
// configured retention window.
package retention

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mysql-snapshot/internal/logging"
	"mysql-snapshot/internal/snapshot"
	"mysql-snapshot/internal/storage"
)

// DefaultRetentionDays applies when a non-positive window is requested
const DefaultRetentionDays = 7

// PassReport is the outcome of sweeping one store
type PassReport struct {
	Location string   `json:"location" yaml:"location"`
	Scanned  int      `json:"scanned" yaml:"scanned"`
	Kept     int      `json:"kept" yaml:"kept"`
	Deleted  []string `json:"deleted" yaml:"deleted"`
	Skipped  []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Errors   []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	// Err is set when the store could not be listed at all
	Err error `json:"-" yaml:"-"`
}

// SweepReport combines the local and remote passes. Remote is nil when no
// remote store is configured.
type SweepReport struct {
	Cutoff time.Time   `json:"cutoff" yaml:"cutoff"`
	DryRun bool        `json:"dry_run" yaml:"dry_run"`
	Local  *PassReport `json:"local,omitempty" yaml:"local,omitempty"`
	Remote *PassReport `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// DeletedCount sums deletions over both passes
func (r *SweepReport) DeletedCount() int {
	n := 0
	for _, p := range []*PassReport{r.Local, r.Remote} {
		if p != nil {
			n += len(p.Deleted)
		}
	}
	return n
}

// Sweeper removes expired artifacts from a local and an optional remote store
type Sweeper struct {
	local  storage.ObjectStore
	remote storage.ObjectStore
	logger *logging.Logger
	now    func() time.Time
	dryRun bool
}

// NewSweeper creates a Sweeper. Either store may be nil to skip that pass.
func NewSweeper(local, remote storage.ObjectStore, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Sweeper{local: local, remote: remote, logger: logger, now: time.Now}
}

// WithDryRun reports what would be deleted without deleting
func (s *Sweeper) WithDryRun(dryRun bool) *Sweeper {
	s.dryRun = dryRun
	return s
}

// Sweep deletes artifacts older than retentionDays from both stores. The
// passes run concurrently and fail independently; failures are logged and
// reported, never returned.
func (s *Sweeper) Sweep(ctx context.Context, retentionDays int) *SweepReport {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	report := &SweepReport{
		Cutoff: s.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour),
		DryRun: s.dryRun,
	}

	var g errgroup.Group
	if s.local != nil {
		g.Go(func() error {
			report.Local = s.sweepStore(ctx, s.local, report.Cutoff)
			return nil
		})
	}
	if s.remote != nil {
		g.Go(func() error {
			report.Remote = s.sweepStore(ctx, s.remote, report.Cutoff)
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (s *Sweeper) sweepStore(ctx context.Context, store storage.ObjectStore, cutoff time.Time) *PassReport {
	pass := &PassReport{Location: store.Location(), Deleted: []string{}}
	log := s.logger.WithField("location", pass.Location)

	objects, err := store.List(ctx, "backup_")
	if err != nil {
		pass.Err = err
		log.WithError(err).Error("Failed to list artifacts for retention sweep")
		return pass
	}

	for _, obj := range objects {
		name := path.Base(obj.Key)
		if !isCandidate(name) {
			continue
		}
		pass.Scanned++

		ts, _, err := snapshot.ParseArtifactName(name)
		if err != nil {
			pass.Skipped = append(pass.Skipped, obj.Key)
			log.WithField("key", obj.Key).Warn("Skipping artifact with unparsable timestamp")
			continue
		}
		if !ts.Before(cutoff) {
			pass.Kept++
			continue
		}

		if s.dryRun {
			pass.Deleted = append(pass.Deleted, obj.Key)
			continue
		}
		if err := ctx.Err(); err != nil {
			pass.Errors = append(pass.Errors, fmt.Sprintf("%s: %v", obj.Key, err))
			continue
		}
		err = store.Delete(ctx, obj.Key)
		s.logger.LogArtifactDeleted(pass.Location, obj.Key, s.now().Sub(ts), err)
		if err != nil {
			pass.Errors = append(pass.Errors, fmt.Sprintf("%s: %v", obj.Key, err))
			continue
		}
		pass.Deleted = append(pass.Deleted, obj.Key)
	}
	return pass
}

// isCandidate matches the loose "backup_*.backup.*" shape; timestamps are
// parsed afterwards so malformed names get reported rather than ignored.
func isCandidate(name string) bool {
	return strings.HasPrefix(name, "backup_") && strings.Contains(name, ".backup.")
}

// Package application wires configuration, the database connection, the
// object stores and the snapshot components into the operations the CLI
// exposes.
package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"mysql-snapshot/internal/config"
	"mysql-snapshot/internal/database"
	"mysql-snapshot/internal/logging"
	"mysql-snapshot/internal/retention"
	"mysql-snapshot/internal/snapshot"
	"mysql-snapshot/internal/storage"
)

// ErrRemoteNotConfigured is returned by remote operations when no storage
// provider is configured
var ErrRemoteNotConfigured = errors.New("remote storage is not configured")

// Application serves one CLI invocation
type Application struct {
	config    *config.Config
	logger    *logging.Logger
	dbService *database.Service
	local     *storage.LocalStore
	remote    storage.ObjectStore

	db     *sql.DB
	ownsDB bool
}

// Option customises an Application
type Option func(*Application)

// WithDB makes the Application use db instead of connecting. The caller
// keeps ownership of db.
func WithDB(db *sql.DB) Option {
	return func(a *Application) { a.db = db }
}

// WithRemoteStore replaces the configured remote store
func WithRemoteStore(store storage.ObjectStore) Option {
	return func(a *Application) { a.remote = store }
}

// WithDatabaseService replaces the service used to connect
func WithDatabaseService(s *database.Service) Option {
	return func(a *Application) { a.dbService = s }
}

// New creates an Application. The database is connected lazily so commands
// that only touch artifacts work without one.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*Application, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	a := &Application{config: cfg, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if a.dbService == nil {
		a.dbService = database.NewServiceWithLogger(logger)
	}

	local, err := storage.NewLocalStore(cfg.Backup.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup directory: %w", err)
	}
	a.local = local

	if a.remote == nil && cfg.Storage.Enabled() {
		remote, err := storage.NewRemoteStore(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise %s storage: %w", cfg.Storage.ProviderType(), err)
		}
		a.remote = remote
	}
	return a, nil
}

// Close releases the database connection and remote store clients
func (a *Application) Close() error {
	var errs []error
	if a.ownsDB && a.db != nil {
		errs = append(errs, a.dbService.Close(a.db))
		a.db = nil
	}
	if c, ok := a.remote.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Logger returns the application logger
func (a *Application) Logger() *logging.Logger {
	return a.logger
}

// HasRemote reports whether a remote store is available
func (a *Application) HasRemote() bool {
	return a.remote != nil
}

// LocalLocation describes the local backup directory
func (a *Application) LocalLocation() string {
	return a.local.Location()
}

// RemoteLocation describes the remote store, or "" when there is none
func (a *Application) RemoteLocation() string {
	if a.remote == nil {
		return ""
	}
	return a.remote.Location()
}

func (a *Application) database(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := a.dbService.Connect(ctx, a.config.Database)
	if err != nil {
		return nil, err
	}
	a.db, a.ownsDB = db, true
	return db, nil
}

// components bundles the snapshot machinery bound to one connection
type components struct {
	db       *sql.DB
	catalog  *snapshot.MySQLCatalog
	codec    snapshot.ArtifactCodec
	differ   *snapshot.Differ
	restorer *snapshot.Restorer
}

func (a *Application) components(ctx context.Context) (*components, error) {
	codec, err := a.config.Backup.Codec()
	if err != nil {
		return nil, err
	}
	db, err := a.database(ctx)
	if err != nil {
		return nil, err
	}

	revisionTable := a.config.Backup.RevisionTableRef()
	catalog := snapshot.NewMySQLCatalog(db)
	differ := snapshot.NewDiffer(db, catalog, codec, revisionTable, a.logger)
	restorer := snapshot.NewRestorer(db, catalog, differ, codec, snapshot.RestoreOptions{
		RevisionTable:           revisionTable,
		DisableForeignKeyChecks: a.config.Backup.DisableForeignKeyChecks,
	}, a.logger)

	return &components{db: db, catalog: catalog, codec: codec, differ: differ, restorer: restorer}, nil
}

// Build captures the database into a new local artifact and returns its path
func (a *Application) Build(ctx context.Context) (string, error) {
	c, err := a.components(ctx)
	if err != nil {
		return "", err
	}
	revisionTable := a.config.Backup.RevisionTableRef()
	builder := snapshot.NewBuilder(c.db, c.catalog, snapshot.NewTableRevisionSource(c.db, revisionTable), snapshot.BuilderOptions{
		DatabaseName:  a.config.Database.Database,
		DatabaseHost:  a.config.Database.Host,
		RevisionTable: revisionTable,
		Codec:         c.codec,
	}, a.logger)
	return builder.Build(ctx, a.local.Dir())
}

// OneshotResult reports a build-upload-sweep run
type OneshotResult struct {
	Artifact string                 `json:"artifact" yaml:"artifact"`
	Uploaded string                 `json:"uploaded,omitempty" yaml:"uploaded,omitempty"`
	Sweep    *retention.SweepReport `json:"sweep,omitempty" yaml:"sweep,omitempty"`
}

// Oneshot builds an artifact, copies it to the remote store when one is
// configured, then sweeps expired artifacts. A failed upload stops the run
// before the sweep.
func (a *Application) Oneshot(ctx context.Context) (*OneshotResult, error) {
	done := a.logger.LogOperationStart("oneshot", map[string]interface{}{"dir": a.local.Dir()})

	result, err := a.oneshot(ctx)
	done(err)
	return result, err
}

func (a *Application) oneshot(ctx context.Context) (*OneshotResult, error) {
	artifactPath, err := a.Build(ctx)
	if err != nil {
		return nil, err
	}
	result := &OneshotResult{Artifact: artifactPath}

	if a.remote != nil {
		key := filepath.Base(artifactPath)
		if err := a.upload(ctx, artifactPath, key); err != nil {
			return result, err
		}
		result.Uploaded = a.remote.Location() + "/" + key
	}

	result.Sweep = a.Sweep(ctx, a.config.Backup.RetentionDays, false)
	return result, nil
}

func (a *Application) upload(ctx context.Context, artifactPath, key string) error {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return fmt.Errorf("failed to read artifact for upload: %w", err)
	}
	if err := a.remote.Write(ctx, key, data); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	a.logger.WithFields(map[string]interface{}{
		"location": a.remote.Location(),
		"key":      key,
		"size":     len(data),
	}).Info("Uploaded artifact")
	return nil
}

// Sweep deletes artifacts older than retentionDays from both stores
func (a *Application) Sweep(ctx context.Context, retentionDays int, dryRun bool) *retention.SweepReport {
	return retention.NewSweeper(a.local, a.remote, a.logger).WithDryRun(dryRun).Sweep(ctx, retentionDays)
}

// ListLocal returns the local artifacts, most recently modified first
func (a *Application) ListLocal(ctx context.Context) ([]storage.ObjectInfo, error) {
	objects, err := a.local.List(ctx, "backup_")
	if err != nil {
		return nil, err
	}
	artifacts := filterArtifacts(objects)
	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].LastModified.After(artifacts[j].LastModified)
	})
	return artifacts, nil
}

// ListRemote returns the remote artifacts, newest name first
func (a *Application) ListRemote(ctx context.Context) ([]storage.ObjectInfo, error) {
	if a.remote == nil {
		return nil, ErrRemoteNotConfigured
	}
	objects, err := a.remote.List(ctx, "backup_")
	if err != nil {
		return nil, err
	}
	artifacts := filterArtifacts(objects)
	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].Key > artifacts[j].Key
	})
	return artifacts, nil
}

func filterArtifacts(objects []storage.ObjectInfo) []storage.ObjectInfo {
	artifacts := make([]storage.ObjectInfo, 0, len(objects))
	for _, o := range objects {
		if snapshot.IsArtifactName(path.Base(o.Key)) {
			artifacts = append(artifacts, o)
		}
	}
	return artifacts
}

// Artifact is a resolved artifact file. Close removes it when it was
// downloaded into a temporary directory.
type Artifact struct {
	Name    string
	Path    string
	cleanup func() error
}

// Close releases the artifact
func (a *Artifact) Close() error {
	if a == nil || a.cleanup == nil {
		return nil
	}
	err := a.cleanup()
	a.cleanup = nil
	return err
}

// ResolveArtifact locates ref. With fromRemote it downloads ref from the
// remote store into a temporary directory. Otherwise ref is used as a path
// when it exists and is looked up in the backup directory when it does not.
func (a *Application) ResolveArtifact(ctx context.Context, ref string, fromRemote bool) (*Artifact, error) {
	if ref == "" {
		return nil, errors.New("artifact name is required")
	}
	if fromRemote {
		return a.download(ctx, ref)
	}

	if _, err := os.Stat(ref); err == nil {
		return &Artifact{Name: filepath.Base(ref), Path: ref}, nil
	}
	return &Artifact{Name: filepath.Base(ref), Path: a.local.Path(filepath.Base(ref))}, nil
}

func (a *Application) download(ctx context.Context, key string) (*Artifact, error) {
	if a.remote == nil {
		return nil, ErrRemoteNotConfigured
	}
	data, err := a.remote.Read(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, snapshot.NewBackupError(snapshot.BackupErrorTypeNotFound, "backup file not found", err).
				WithContext("location", a.remote.Location()).WithContext("key", key)
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}

	dir, err := os.MkdirTemp("", "mysql-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	name := path.Base(key)
	target := filepath.Join(dir, name)
	if err := storage.WriteFileAtomic(target, data); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to write downloaded artifact: %w", err)
	}
	a.logger.WithFields(map[string]interface{}{
		"location": a.remote.Location(),
		"key":      key,
		"path":     target,
	}).Debug("Downloaded artifact")

	return &Artifact{Name: name, Path: target, cleanup: func() error { return os.RemoveAll(dir) }}, nil
}

// Inspect loads an artifact without touching the database
func (a *Application) Inspect(ctx context.Context, ref string, fromRemote bool) (*Artifact, *snapshot.Snapshot, error) {
	codec, err := a.config.Backup.Codec()
	if err != nil {
		return nil, nil, err
	}
	artifact, err := a.ResolveArtifact(ctx, ref, fromRemote)
	if err != nil {
		return nil, nil, err
	}
	defer artifact.Close()

	snap, err := codec.Load(artifact.Path)
	if err != nil {
		return nil, nil, err
	}
	return artifact, snap, nil
}

// Diff compares an artifact with the live database
func (a *Application) Diff(ctx context.Context, ref string, fromRemote bool) (*snapshot.DiffSummary, error) {
	c, err := a.components(ctx)
	if err != nil {
		return nil, err
	}
	artifact, err := a.ResolveArtifact(ctx, ref, fromRemote)
	if err != nil {
		return nil, err
	}
	defer artifact.Close()

	return c.differ.Diff(ctx, artifact.Path)
}

// RestorePlan is a loaded artifact awaiting confirmation. Diff is nil when
// the preview could not be computed; DiffErr then says why.
type RestorePlan struct {
	Artifact *Artifact
	Snapshot *snapshot.Snapshot
	Diff     *snapshot.DiffSummary
	DiffErr  error

	components *components
}

// Close releases the plan's artifact
func (p *RestorePlan) Close() error {
	return p.Artifact.Close()
}

// PrepareRestore loads the artifact and previews the change. Nothing is
// written to the database.
func (a *Application) PrepareRestore(ctx context.Context, ref string, fromRemote bool) (*RestorePlan, error) {
	c, err := a.components(ctx)
	if err != nil {
		return nil, err
	}
	artifact, err := a.ResolveArtifact(ctx, ref, fromRemote)
	if err != nil {
		return nil, err
	}

	snap, err := c.codec.Load(artifact.Path)
	if err != nil {
		artifact.Close()
		return nil, err
	}

	plan := &RestorePlan{Artifact: artifact, Snapshot: snap, components: c}
	plan.Diff, plan.DiffErr = c.differ.DiffSnapshot(ctx, snap)
	if plan.DiffErr != nil {
		a.logger.WithError(plan.DiffErr).Warn("Failed to compute pre-restore diff")
	}
	return plan, nil
}

// VerifyRestore runs the restore pre-flight checks without writing
func (a *Application) VerifyRestore(ctx context.Context, plan *RestorePlan) error {
	return plan.components.restorer.Verify(ctx, plan.Snapshot)
}

// Restore applies a prepared plan
func (a *Application) Restore(ctx context.Context, plan *RestorePlan) *snapshot.RestoreResult {
	start := time.Now()
	result := plan.components.restorer.RestoreSnapshot(ctx, plan.Snapshot)
	result.DiffSummary = plan.Diff
	a.logger.LogRestoreCompleted(plan.Artifact.Path, result.Success, result.RestoredTables, result.RestoredRows, time.Since(start), result.Message)
	return result
}

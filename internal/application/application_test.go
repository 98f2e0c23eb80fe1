package application

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-snapshot/internal/config"
	"mysql-snapshot/internal/snapshot"
	"mysql-snapshot/internal/storage"
)

// memoryStore is an in-memory remote store
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryStore) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (m *memoryStore) Write(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) Location() string { return "mem://backups" }

func (m *memoryStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

const (
	tablesPattern   = "FROM INFORMATION_SCHEMA.TABLES"
	columnsPattern  = "FROM INFORMATION_SCHEMA.COLUMNS"
	revisionPattern = "SELECT `version` FROM `schema_migrations` LIMIT 1"
	expiredArtifact = "backup_20200101_000000.backup.gz"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Backup.Dir = t.TempDir()
	cfg.Database.Host = "db.internal"
	cfg.Database.Username = "app"
	cfg.Database.Database = "app"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, remote storage.ObjectStore) (*Application, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	opts := []Option{WithDB(db)}
	if remote != nil {
		opts = append(opts, WithRemoteStore(remote))
	}
	app, err := New(context.Background(), cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app, mock
}

func expectTables(mock sqlmock.Sqlmock, tables ...string) {
	rows := sqlmock.NewRows([]string{"TABLE_NAME"})
	for _, t := range tables {
		rows.AddRow(t)
	}
	mock.ExpectQuery(tablesPattern).WillReturnRows(rows)
}

func expectIDColumn(mock sqlmock.Sqlmock, table string) {
	mock.ExpectQuery(columnsPattern).WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE"}).AddRow("id", "int"))
}

func writeLocalArtifact(t *testing.T, dir, name string, snap *snapshot.Snapshot) string {
	t.Helper()
	data, err := snapshot.ArtifactCodec{}.Encode(snap)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func usersSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Metadata: snapshot.Metadata{
			Version:      snapshot.FormatVersion,
			Timestamp:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			DatabaseName: "app",
		},
		Tables: map[string]*snapshot.TableSnapshot{
			"users": {RowCount: 2, Columns: []string{"id"}, Data: [][]any{{int64(1)}, {int64(2)}}},
		},
	}
}

func TestOneshot(t *testing.T) {
	cfg := testConfig(t)
	remote := newMemoryStore()
	require.NoError(t, remote.Write(context.Background(), expiredArtifact, []byte("old")))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Backup.Dir, expiredArtifact), []byte("old"), 0o600))

	app, mock := newTestApp(t, cfg, remote)
	mock.ExpectQuery(regexp.QuoteMeta(revisionPattern)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("20240101"))
	expectTables(mock, "schema_migrations", "users")
	expectIDColumn(mock, "users")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id` FROM `users`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))

	result, err := app.Oneshot(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	name := filepath.Base(result.Artifact)
	assert.True(t, snapshot.IsArtifactName(name))
	assert.FileExists(t, result.Artifact)
	assert.True(t, remote.has(name))
	assert.Equal(t, "mem://backups/"+name, result.Uploaded)

	require.NotNil(t, result.Sweep)
	assert.Equal(t, []string{expiredArtifact}, result.Sweep.Local.Deleted)
	assert.Equal(t, []string{expiredArtifact}, result.Sweep.Remote.Deleted)
	assert.NoFileExists(t, filepath.Join(cfg.Backup.Dir, expiredArtifact))
	assert.False(t, remote.has(expiredArtifact))

	snap, err := snapshot.ArtifactCodec{}.Load(result.Artifact)
	require.NoError(t, err)
	assert.Equal(t, "20240101", snap.Metadata.MigrationRevision)
	assert.Equal(t, "db.internal", snap.Metadata.DatabaseHost)
	assert.Equal(t, 2, snap.Tables["users"].RowCount)
	assert.NotContains(t, snap.Tables, "schema_migrations")
}

func TestOneshotWithoutRemote(t *testing.T) {
	app, mock := newTestApp(t, testConfig(t), nil)
	mock.ExpectQuery(regexp.QuoteMeta(revisionPattern)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	expectTables(mock)

	result, err := app.Oneshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Uploaded)
	assert.Nil(t, result.Sweep.Remote)
	assert.Equal(t, 1, result.Sweep.Local.Kept)
}

func TestOneshotBuildFailure(t *testing.T) {
	cfg := testConfig(t)
	app, mock := newTestApp(t, cfg, nil)
	mock.ExpectQuery(regexp.QuoteMeta(revisionPattern)).WillReturnError(sql.ErrConnDone)

	_, err := app.Oneshot(context.Background())
	var be *snapshot.BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, snapshot.BackupErrorTypeDatabase, be.Type)

	entries, err := os.ReadDir(cfg.Backup.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListLocalAndRemote(t *testing.T) {
	cfg := testConfig(t)
	remote := newMemoryStore()
	ctx := context.Background()

	older := filepath.Join(cfg.Backup.Dir, "backup_20250101_000000.backup.gz")
	newer := filepath.Join(cfg.Backup.Dir, "backup_20250102_000000.backup.zst")
	for _, p := range []string{older, newer, filepath.Join(cfg.Backup.Dir, "backup_notes.txt")} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}
	now := time.Now()
	require.NoError(t, os.Chtimes(older, now, now))
	require.NoError(t, os.Chtimes(newer, now.Add(-time.Hour), now.Add(-time.Hour)))

	for _, k := range []string{"backup_20250101_000000.backup.gz", "backup_20250103_000000.backup.lz4", "readme"} {
		require.NoError(t, remote.Write(ctx, k, []byte("x")))
	}

	app, _ := newTestApp(t, cfg, remote)

	local, err := app.ListLocal(ctx)
	require.NoError(t, err)
	require.Len(t, local, 2)
	assert.Equal(t, "backup_20250101_000000.backup.gz", local[0].Key)

	remoteList, err := app.ListRemote(ctx)
	require.NoError(t, err)
	require.Len(t, remoteList, 2)
	assert.Equal(t, "backup_20250103_000000.backup.lz4", remoteList[0].Key)
}

func TestListRemoteNotConfigured(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t), nil)
	_, err := app.ListRemote(context.Background())
	assert.ErrorIs(t, err, ErrRemoteNotConfigured)
	assert.False(t, app.HasRemote())
}

func TestResolveArtifact(t *testing.T) {
	cfg := testConfig(t)
	remote := newMemoryStore()
	ctx := context.Background()
	require.NoError(t, remote.Write(ctx, "backup_20250101_000000.backup.gz", []byte("payload")))
	app, _ := newTestApp(t, cfg, remote)

	t.Run("name in backup dir", func(t *testing.T) {
		a, err := app.ResolveArtifact(ctx, "backup_20250101_000000.backup.gz", false)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(cfg.Backup.Dir, "backup_20250101_000000.backup.gz"), a.Path)
		assert.NoError(t, a.Close())
	})

	t.Run("explicit path", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "backup_20250101_000000.backup.gz")
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
		a, err := app.ResolveArtifact(ctx, p, false)
		require.NoError(t, err)
		assert.Equal(t, p, a.Path)
		require.NoError(t, a.Close())
		assert.FileExists(t, p)
	})

	t.Run("download removed on close", func(t *testing.T) {
		a, err := app.ResolveArtifact(ctx, "backup_20250101_000000.backup.gz", true)
		require.NoError(t, err)
		data, err := os.ReadFile(a.Path)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))

		require.NoError(t, a.Close())
		assert.NoDirExists(t, filepath.Dir(a.Path))
	})

	t.Run("missing remote object", func(t *testing.T) {
		_, err := app.ResolveArtifact(ctx, "backup_20990101_000000.backup.gz", true)
		var be *snapshot.BackupError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, snapshot.BackupErrorTypeNotFound, be.Type)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := app.ResolveArtifact(ctx, "", false)
		assert.Error(t, err)
	})
}

func TestInspect(t *testing.T) {
	cfg := testConfig(t)
	writeLocalArtifact(t, cfg.Backup.Dir, "backup_20240102_030405.backup.gz", usersSnapshot())
	app, mock := newTestApp(t, cfg, nil)

	artifact, snap, err := app.Inspect(context.Background(), "backup_20240102_030405.backup.gz", false)
	require.NoError(t, err)
	assert.Equal(t, "backup_20240102_030405.backup.gz", artifact.Name)
	assert.EqualValues(t, 2, snap.TotalRows())
	assert.NoError(t, mock.ExpectationsWereMet())

	_, _, err = app.Inspect(context.Background(), "backup_20990101_000000.backup.gz", false)
	var be *snapshot.BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, snapshot.BackupErrorTypeNotFound, be.Type)
}

func TestDiff(t *testing.T) {
	cfg := testConfig(t)
	remote := newMemoryStore()
	data, err := snapshot.ArtifactCodec{}.Encode(usersSnapshot())
	require.NoError(t, err)
	require.NoError(t, remote.Write(context.Background(), "backup_20240102_030405.backup.gz", data))

	app, mock := newTestApp(t, cfg, remote)
	expectTables(mock, "users")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `users`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(5))

	summary, err := app.Diff(context.Background(), "backup_20240102_030405.backup.gz", true)
	require.NoError(t, err)
	assert.Equal(t, snapshot.NewTableDiff(5, 2), summary.Tables["users"])
	assert.EqualValues(t, -3, summary.TotalDiff)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrepareVerifyAndRestore(t *testing.T) {
	cfg := testConfig(t)
	writeLocalArtifact(t, cfg.Backup.Dir, "backup_20240102_030405.backup.gz", usersSnapshot())
	app, mock := newTestApp(t, cfg, nil)
	ctx := context.Background()

	// preview
	expectTables(mock, "users")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `users`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))

	plan, err := app.PrepareRestore(ctx, "backup_20240102_030405.backup.gz", false)
	require.NoError(t, err)
	defer plan.Close()
	require.NoError(t, plan.DiffErr)
	assert.Equal(t, snapshot.NewTableDiff(0, 2), plan.Diff.Tables["users"])

	// dry run
	expectTables(mock, "users")
	expectIDColumn(mock, "users")
	require.NoError(t, app.VerifyRestore(ctx, plan))

	// apply
	expectTables(mock, "users")
	expectIDColumn(mock, "users")
	mock.ExpectExec(regexp.QuoteMeta("SET FOREIGN_KEY_CHECKS = 0")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `users`")).WillReturnResult(sqlmock.NewResult(0, 0))
	insert := regexp.QuoteMeta("INSERT INTO `users` (`id`) VALUES (?)")
	mock.ExpectExec(insert).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insert).WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta("SET FOREIGN_KEY_CHECKS = 1")).WillReturnResult(sqlmock.NewResult(0, 0))

	result := app.Restore(ctx, plan)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, "Restored 2 rows into 1 tables", result.Message)
	assert.Same(t, plan.Diff, result.DiffSummary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyRestoreMissingTable(t *testing.T) {
	cfg := testConfig(t)
	writeLocalArtifact(t, cfg.Backup.Dir, "backup_20240102_030405.backup.gz", usersSnapshot())
	app, mock := newTestApp(t, cfg, nil)
	ctx := context.Background()

	expectTables(mock)
	plan, err := app.PrepareRestore(ctx, "backup_20240102_030405.backup.gz", false)
	require.NoError(t, err)
	defer plan.Close()

	expectTables(mock)
	err = app.VerifyRestore(ctx, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPrepareRestoreMissingArtifact(t *testing.T) {
	app, _ := newTestApp(t, testConfig(t), nil)
	_, err := app.PrepareRestore(context.Background(), "backup_20990101_000000.backup.gz", false)
	var be *snapshot.BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, snapshot.BackupErrorTypeNotFound, be.Type)
}

func TestSweepDryRun(t *testing.T) {
	cfg := testConfig(t)
	expired := filepath.Join(cfg.Backup.Dir, expiredArtifact)
	require.NoError(t, os.WriteFile(expired, []byte("old"), 0o600))
	app, _ := newTestApp(t, cfg, nil)

	report := app.Sweep(context.Background(), 7, true)
	assert.True(t, report.DryRun)
	assert.Equal(t, []string{expiredArtifact}, report.Local.Deleted)
	assert.FileExists(t, expired)
}

func TestCodecErrorsSurface(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Encryption.Enabled = true
	cfg.Backup.Encryption.KeySource = "env"
	cfg.Backup.Encryption.KeyEnvVar = "MYSQL_SNAPSHOT_TEST_UNSET_KEY"
	t.Setenv("MYSQL_SNAPSHOT_TEST_UNSET_KEY", "")
	app, _ := newTestApp(t, cfg, nil)

	_, err := app.Build(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_SNAPSHOT_TEST_UNSET_KEY")
}

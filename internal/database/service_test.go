package database

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"mysql-snapshot/internal/errors"
	"mysql-snapshot/internal/logging"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     "db.internal",
		Port:     3306,
		Username: "app",
		Password: "s3cret",
		Database: "shop",
	}
}

func fastRetry() errors.RetryConfig {
	return errors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestDatabaseConfig_Validate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	err := (&DatabaseConfig{Port: 70000}).Validate()
	require.Error(t, err)
	for _, want := range []string{"host is required", "port must be between", "username is required", "database name is required"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDatabaseConfig_SetDefaults(t *testing.T) {
	cfg := DatabaseConfig{}
	cfg.SetDefaults()

	assert.Equal(t, 3306, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.MaxOpenConns)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := validConfig()
	cfg.SetDefaults()

	dsn := cfg.DSN()
	assert.True(t, strings.HasPrefix(dsn, "app:s3cret@tcp(db.internal:3306)/shop?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "timeout=30s")

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "shop", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, time.UTC, parsed.Loc)
}

func TestConnect_InvalidConfig(t *testing.T) {
	service := NewServiceWithLogger(logging.NewNopLogger())

	_, err := service.Connect(context.Background(), DatabaseConfig{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.GetErrorType(err))
}

func TestConnect_Success(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing()

	var gotDSN string
	service := NewServiceWithLogger(logging.NewNopLogger()).
		WithRetry(fastRetry()).
		WithOpenFunc(func(driverName, dsn string) (*sql.DB, error) {
			assert.Equal(t, "mysql", driverName)
			gotDSN = dsn
			return db, nil
		})

	conn, err := service.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Same(t, db, conn)
	assert.Contains(t, gotDSN, "parseTime=true")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnect_RetriesRecoverablePingFailure(t *testing.T) {
	first, firstMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	firstMock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 2003, Message: "Can't connect"})
	firstMock.ExpectClose()

	second, secondMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	secondMock.ExpectPing()

	handles := []*sql.DB{first, second}
	calls := 0
	service := NewServiceWithLogger(logging.NewNopLogger()).
		WithRetry(fastRetry()).
		WithOpenFunc(func(string, string) (*sql.DB, error) {
			db := handles[calls]
			calls++
			return db, nil
		})

	conn, err := service.Connect(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Same(t, second, conn)
	assert.Equal(t, 2, calls)
	assert.NoError(t, firstMock.ExpectationsWereMet())
	assert.NoError(t, secondMock.ExpectationsWereMet())
}

func TestConnect_PermanentFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.ExpectPing().WillReturnError(&mysql.MySQLError{Number: 1045, Message: "Access denied"})
	mock.ExpectClose()

	calls := 0
	service := NewServiceWithLogger(logging.NewNopLogger()).
		WithRetry(fastRetry()).
		WithOpenFunc(func(string, string) (*sql.DB, error) {
			calls++
			return db, nil
		})

	_, err = service.Connect(context.Background(), validConfig())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errors.ErrorTypePermission, errors.GetErrorType(err))
}

func TestGetVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT VERSION\\(\\)").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))

	service := NewServiceWithLogger(logging.NewNopLogger())
	version, err := service.GetVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", version)

	_, err = service.GetVersion(context.Background(), nil)
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	service := NewServiceWithLogger(logging.NewNopLogger())
	assert.NoError(t, service.Close(nil))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()
	assert.NoError(t, service.Close(db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package errors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	cause := errors.New("underlying error")
	appErr := NewAppError(ErrorTypeConnection, "connection failed", cause)

	if appErr.Type != ErrorTypeConnection {
		t.Errorf("Expected type %v, got %v", ErrorTypeConnection, appErr.Type)
	}
	if appErr.IsRecoverable() {
		t.Error("Expected non-recoverable error")
	}

	expectedError := "connection: connection failed (caused by: underlying error)"
	if appErr.Error() != expectedError {
		t.Errorf("Expected error string %v, got %v", expectedError, appErr.Error())
	}
	if !errors.Is(appErr, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}

	noCause := NewAppError(ErrorTypeSQL, "bad statement", nil)
	assert.Equal(t, "sql: bad statement", noCause.Error())
}

func TestAppErrorWithContext(t *testing.T) {
	appErr := NewAppError(ErrorTypeSQL, "query failed", nil)
	appErr.WithContext("table", "users").WithContext("attempt", 2)

	assert.Equal(t, "users", appErr.Context["table"])
	assert.Equal(t, 2, appErr.Context["attempt"])
}

func TestUserMessage(t *testing.T) {
	appErr := NewAppError(ErrorTypeValidation, "internal detail", nil)
	assert.Equal(t, "internal detail", appErr.GetUserMessage())

	appErr.UserMessage = "Please check the backup file name"
	assert.Equal(t, "Please check the backup file name", appErr.GetUserMessage())
}

func TestErrorClassifier_ClassifyMySQLError(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		mysqlErr     *mysql.MySQLError
		expectedType ErrorType
		recoverable  bool
	}{
		{name: "access denied", mysqlErr: &mysql.MySQLError{Number: 1045, Message: "Access denied"}, expectedType: ErrorTypePermission},
		{name: "unknown database", mysqlErr: &mysql.MySQLError{Number: 1049, Message: "Unknown database"}, expectedType: ErrorTypeValidation},
		{name: "table doesn't exist", mysqlErr: &mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}, expectedType: ErrorTypeSchema},
		{name: "unknown column", mysqlErr: &mysql.MySQLError{Number: 1054, Message: "Unknown column"}, expectedType: ErrorTypeSchema},
		{name: "duplicate entry", mysqlErr: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, expectedType: ErrorTypeValidation},
		{name: "deadlock", mysqlErr: &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, expectedType: ErrorTypeTimeout, recoverable: true},
		{name: "can't connect to server", mysqlErr: &mysql.MySQLError{Number: 2003, Message: "Can't connect"}, expectedType: ErrorTypeConnection, recoverable: true},
		{name: "server has gone away", mysqlErr: &mysql.MySQLError{Number: 2006, Message: "gone away"}, expectedType: ErrorTypeConnection, recoverable: true},
		{name: "lost connection", mysqlErr: &mysql.MySQLError{Number: 2013, Message: "Lost connection"}, expectedType: ErrorTypeConnection, recoverable: true},
		{name: "other", mysqlErr: &mysql.MySQLError{Number: 1366, Message: "Incorrect integer value"}, expectedType: ErrorTypeSQL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(fmt.Errorf("wrapped: %w", tt.mysqlErr))

			if appErr.Type != tt.expectedType {
				t.Errorf("Expected type %v, got %v", tt.expectedType, appErr.Type)
			}
			if appErr.IsRecoverable() != tt.recoverable {
				t.Errorf("Expected recoverable=%v, got %v", tt.recoverable, appErr.IsRecoverable())
			}
			if appErr.Context["mysql_error_code"] != tt.mysqlErr.Number {
				t.Errorf("Expected mysql_error_code=%v, got %v", tt.mysqlErr.Number, appErr.Context["mysql_error_code"])
			}
		})
	}
}

func TestErrorClassifier_ClassifyOtherErrors(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		err          error
		expectedType ErrorType
		recoverable  bool
	}{
		{name: "no rows", err: sql.ErrNoRows, expectedType: ErrorTypeValidation},
		{name: "transaction done", err: sql.ErrTxDone, expectedType: ErrorTypeSQL},
		{name: "connection done", err: sql.ErrConnDone, expectedType: ErrorTypeConnection, recoverable: true},
		{name: "bad conn", err: driver.ErrBadConn, expectedType: ErrorTypeConnection, recoverable: true},
		{name: "invalid conn", err: mysql.ErrInvalidConn, expectedType: ErrorTypeConnection, recoverable: true},
		{name: "deadline", err: context.DeadlineExceeded, expectedType: ErrorTypeTimeout, recoverable: true},
		{name: "canceled", err: context.Canceled, expectedType: ErrorTypeInterruption},
		{name: "missing file", err: &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}, expectedType: ErrorTypeValidation},
		{name: "permission", err: &os.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}, expectedType: ErrorTypePermission},
		{name: "unknown", err: errors.New("mystery"), expectedType: ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := classifier.ClassifyError(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.expectedType, appErr.Type)
			assert.Equal(t, tt.recoverable, appErr.IsRecoverable())
		})
	}

	assert.Nil(t, classifier.ClassifyError(nil))
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(driver.ErrBadConn))
	assert.True(t, IsConnectionError(fmt.Errorf("count rows: %w", &mysql.MySQLError{Number: 2006})))
	assert.False(t, IsConnectionError(&mysql.MySQLError{Number: 1146}))
	assert.False(t, IsConnectionError(errors.New("plain")))
	assert.False(t, IsConnectionError(nil))
}

func TestIsTableNotFound(t *testing.T) {
	assert.True(t, IsTableNotFound(fmt.Errorf("read: %w", &mysql.MySQLError{Number: 1146})))
	assert.False(t, IsTableNotFound(&mysql.MySQLError{Number: 1054}))
	assert.False(t, IsTableNotFound(errors.New("Table doesn't exist")))
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetryHandler_SucceedsAfterRecoverableFailures(t *testing.T) {
	handler := NewRetryHandler(fastRetryConfig())

	attempts := 0
	err := handler.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return driver.ErrBadConn
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryHandler_StopsOnPermanentError(t *testing.T) {
	handler := NewRetryHandler(fastRetryConfig())

	attempts := 0
	err := handler.Retry(context.Background(), func() error {
		attempts++
		return &mysql.MySQLError{Number: 1045, Message: "Access denied"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrorTypePermission, GetErrorType(err))
}

func TestRetryHandler_ExhaustsAttempts(t *testing.T) {
	handler := NewRetryHandler(fastRetryConfig())

	attempts := 0
	err := handler.Retry(context.Background(), func() error {
		attempts++
		return &mysql.MySQLError{Number: 2003, Message: "Can't connect"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 3, appErr.Context["attempts"])
}

func TestRetryHandler_CanceledContext(t *testing.T) {
	handler := NewRetryHandler(fastRetryConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handler.Retry(ctx, func() error {
		t.Fatal("operation must not run on a canceled context")
		return nil
	})

	assert.Equal(t, ErrorTypeInterruption, GetErrorType(err))
}

func TestCalculateDelay(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    300 * time.Millisecond,
		Multiplier:  2.0,
	})

	assert.Equal(t, 100*time.Millisecond, handler.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, handler.calculateDelay(2))
	assert.Equal(t, 300*time.Millisecond, handler.calculateDelay(3))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))

	wrapped := WrapError(sql.ErrConnDone, "could not count rows")
	assert.Equal(t, ErrorTypeConnection, GetErrorType(wrapped))
	assert.True(t, IsRecoverableError(wrapped))
	assert.Contains(t, wrapped.Error(), "could not count rows")

	rewrapped := WrapError(wrapped, "diff failed")
	assert.Equal(t, ErrorTypeConnection, GetErrorType(rewrapped))
	assert.True(t, errors.Is(rewrapped, sql.ErrConnDone))
}

func TestSignalContext(t *testing.T) {
	ctx, cancel := SignalContext(context.Background())
	assert.NoError(t, ctx.Err())
	cancel()
	assert.Error(t, ctx.Err())
}

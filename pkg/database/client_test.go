package database

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockClient wires a sqlmock-backed *Client, avoiding a live Postgres
// (testcontainers-go needs Docker, unavailable to this test suite).
func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "pgx")
	return NewClientFromSqlx(sqlxDB), mock
}

func TestDatabaseClient_HealthCheck(t *testing.T) {
	client, mock := newMockClient(t)
	ctx := context.Background()

	mock.ExpectPing()

	health, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseClient_HealthCheck_PingFails(t *testing.T) {
	client, mock := newMockClient(t)
	ctx := context.Background()

	mock.ExpectPing().WillReturnError(assert.AnError)

	health, err := Health(ctx, client.DB())
	require.Error(t, err)
	assert.Equal(t, "unhealthy", health.Status)
}

func TestCreateGINIndexes_IssuesBothStatements(t *testing.T) {
	client, mock := newMockClient(t)
	ctx := context.Background()

	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_tasks_title_gin").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_tasks_events_gin").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := CreateGINIndexes(ctx, client.Sqlx())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				SSLMode:      "disable",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
			wantErr: false,
		},
		{
			name: "missing password",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "",
				Database:     "test",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
			wantErr: true,
		},
		{
			name: "idle conns exceed max conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 5,
				MaxIdleConns: 10,
			},
			wantErr: true,
		},
		{
			name: "zero max open conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 0,
				MaxIdleConns: 0,
			},
			wantErr: true,
		},
		{
			name: "negative idle conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 10,
				MaxIdleConns: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHealth_ReportsPoolStats(t *testing.T) {
	client, mock := newMockClient(t)
	client.DB().SetMaxOpenConns(25)
	mock.ExpectPing()

	health, err := Health(context.Background(), client.DB())
	require.NoError(t, err)
	assert.Equal(t, 25, health.MaxOpenConns)
	assert.GreaterOrEqual(t, health.ResponseTime, time.Duration(0))
}

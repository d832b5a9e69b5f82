package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single URL", input: "postgres://localhost:5432/db", expected: []string{"postgres://localhost:5432/db"}},
		{
			name:     "whitespace and empty entries",
			input:    " postgres://host1:5432/db ,, postgres://host2:5432/db,",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{name: "only commas", input: " , , ", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestNewConnectionManagerSQLite(t *testing.T) {
	dir := t.TempDir()
	cm, err := NewConnectionManager(ConnectionConfig{
		Dialect:     DialectSQLite,
		PrimaryURL:  filepath.Join(dir, "primary.db"),
		ReplicaURLs: []string{filepath.Join(dir, "replica.db")},
		MaxConns:    4,
		Timeout:     time.Second,
	}, nil)
	require.NoError(t, err)
	defer cm.Close()

	assert.Equal(t, DialectSQLite, cm.Dialect().Name())
	assert.NotSame(t, cm.Primary(), cm.Replica())
	assert.NoError(t, cm.HealthCheck(context.Background()))
	assert.Len(t, cm.Stats().Replicas, 1)
}

func TestNewConnectionManagerUnknownDialect(t *testing.T) {
	_, err := NewConnectionManager(ConnectionConfig{Dialect: "mssql"}, nil)
	assert.Error(t, err)
}

func TestReplicaFallsBackToPrimary(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cm := NewConnectionManagerFromDB(Postgres{}, db)
	assert.Same(t, db, cm.Replica())
}

func TestRefreshReplicas(t *testing.T) {
	primary, _, err := sqlmock.New()
	require.NoError(t, err)
	healthy, healthyMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	flaky, flakyMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	cm := NewConnectionManagerFromDB(Postgres{}, primary, healthy, flaky)
	ctx := context.Background()

	healthyMock.ExpectPing()
	flakyMock.ExpectPing().WillReturnError(assert.AnError)
	lost, recovered := cm.RefreshReplicas(ctx)
	assert.Equal(t, 1, lost)
	assert.Equal(t, 0, recovered)
	for i := 0; i < 4; i++ {
		assert.Same(t, healthy, cm.Replica())
	}
	assert.False(t, cm.Stats().Replicas[1].InUse)

	healthyMock.ExpectPing().WillReturnError(assert.AnError)
	flakyMock.ExpectPing().WillReturnError(assert.AnError)
	cm.RefreshReplicas(ctx)
	assert.Same(t, primary, cm.Replica())

	healthyMock.ExpectPing()
	flakyMock.ExpectPing()
	lost, recovered = cm.RefreshReplicas(ctx)
	assert.Equal(t, 0, lost)
	assert.Equal(t, 2, recovered)

	assert.NoError(t, healthyMock.ExpectationsWereMet())
	assert.NoError(t, flakyMock.ExpectationsWereMet())
}

func TestHealthCheckReplicaRotation(t *testing.T) {
	primary, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	replica, replicaMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	cm := NewConnectionManagerFromDB(Postgres{}, primary, replica)
	ctx := context.Background()

	primaryMock.ExpectPing()
	assert.NoError(t, cm.HealthCheck(ctx))

	replicaMock.ExpectPing().WillReturnError(assert.AnError)
	cm.RefreshReplicas(ctx)
	primaryMock.ExpectPing()
	err = cm.HealthCheck(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no replica in rotation (replica-0)")

	primaryMock.ExpectPing().WillReturnError(assert.AnError)
	assert.ErrorContains(t, cm.HealthCheck(ctx), "primary unhealthy")
}

func TestReaderRoutesReadsToReplicas(t *testing.T) {
	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	replica, replicaMock, err := sqlmock.New()
	require.NoError(t, err)
	defer replica.Close()

	replicaMock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	replicaMock.ExpectQuery("SELECT 2").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))
	primaryMock.ExpectExec("DELETE FROM t").WillReturnResult(sqlmock.NewResult(0, 1))

	reader := NewConnectionManagerFromDB(SQLite{}, primary, replica).Reader()
	ctx := context.Background()

	rows, err := reader.QueryContext(ctx, "SELECT 1")
	require.NoError(t, err)
	rows.Close()

	var n int
	require.NoError(t, reader.QueryRowContext(ctx, "SELECT 2").Scan(&n))
	assert.Equal(t, 2, n)

	_, err = reader.ExecContext(ctx, "DELETE FROM t")
	require.NoError(t, err)

	assert.NoError(t, replicaMock.ExpectationsWereMet())
	assert.NoError(t, primaryMock.ExpectationsWereMet())
}

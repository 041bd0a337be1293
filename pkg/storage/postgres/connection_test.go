package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/people/pkg/observability"
)

func TestSetup(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	err = setup(context.Background(), db, ConnectionConfig{MaxConns: 7, MinConns: 2, MaxLifetime: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetup_PingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = setup(context.Background(), db, ConnectionConfig{MaxConns: 1})
	assert.ErrorContains(t, err, "failed to ping database")
}

func TestOpen_Unreachable(t *testing.T) {
	_, err := Open(context.Background(), ConnectionConfig{URL: "postgres://localhost:1/people?sslmode=disable&connect_timeout=1", Timeout: time.Second}, nil)
	assert.Error(t, err)
}

func TestStartStatsRoutine(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Ping())

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger, _ := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartStatsRoutine(ctx, db, metrics, 10*time.Millisecond, logger)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.DBConnectionsOpen) == 1 && testutil.ToFloat64(metrics.DBConnectionsIdle) == 1
	}, time.Second, 10*time.Millisecond)
}

package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/db"
)

func TestDbCommand(t *testing.T) {
	cmd := NewDbCommand(newTestEnv(t).deps)

	assert.Equal(t, "db", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)

	migrate, _, err := cmd.Find([]string{"migrate"})
	require.NoError(t, err)
	assert.NotNil(t, migrate.Flags().Lookup("dry-run"))
	assert.NotNil(t, migrate.Flags().Lookup("yes"))

	_, _, err = cmd.Find([]string{"status"})
	require.NoError(t, err)
}

func TestDbCommand_ConnectError(t *testing.T) {
	env := newTestEnv(t)
	var got *db.Config
	env.deps.ConnectDB = func(ctx context.Context, cfg *db.Config) (*pgxpool.Pool, error) {
		got = cfg
		return nil, errors.New("connection refused")
	}

	err := runDbStatus(context.Background(), env.deps, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to database")
	require.NotNil(t, got)
	assert.Equal(t, "tradedoc", got.Database)
}

func TestWriteDbStatusText(t *testing.T) {
	applied := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	status := &DbStatus{
		Health: &db.HealthStatus{Healthy: true, Latency: 2 * time.Millisecond, TotalConns: 2, AcquiredConns: 1},
		Migrations: &db.MigrationStatus{
			Applied: []db.MigrationStatusEntry{{Version: "001", Name: "shipments", AppliedAt: &applied}},
			Pending: []db.MigrationStatusEntry{{Version: "002", Name: "shipment_created_index"}},
		},
	}

	var out bytes.Buffer
	require.NoError(t, writeDbStatusText(&out, status))
	assert.Contains(t, out.String(), "healthy")
	assert.Contains(t, out.String(), "2026-10-01 12:00:00")
	assert.Contains(t, out.String(), "pending")
	assert.Contains(t, out.String(), "Summary: 1 applied, 1 pending")
}

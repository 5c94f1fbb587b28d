package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docqa-agent/config"
)

func TestDatabaseConnectivity(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database connectivity checks")
	}

	cfg, err := config.Load("")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := NewPostgresPool(ctx, cfg.PostgresDSN)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, pool.Ping(ctx))

	if cfg.Neo4jURI == "" {
		return
	}

	driver, err := NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, driver.Close(ctx))
	}()

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, "RETURN 1 AS ok", nil)
	require.NoError(t, err)
	record, err := result.Single(ctx)
	require.NoError(t, err)

	value, found := record.Get("ok")
	require.True(t, found, "neo4j query missing 'ok' field")
	assert.Equal(t, int64(1), value)
}

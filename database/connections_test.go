package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPostgresPoolRejectsMalformedDSN(t *testing.T) {
	_, err := NewPostgresPool(context.Background(), "://not-a-dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse postgres dsn")
}

func TestNewNeo4jDriverRejectsUnknownScheme(t *testing.T) {
	_, err := NewNeo4jDriver(context.Background(), "ftp://localhost:7687", "neo4j", "password")
	require.Error(t, err)
}

func TestEnsureSchemaRejectsNonPositiveDimension(t *testing.T) {
	err := EnsureSchema(context.Background(), nil, 0)
	require.Error(t, err)

	err = EnsureSchema(context.Background(), nil, -1)
	require.Error(t, err)
}

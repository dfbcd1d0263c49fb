package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLedger_SQLite(t *testing.T) {
	cfg := &DBConfig{Type: "sqlite", Database: ":memory:"}
	l, err := NewLedger(cfg)
	require.NoError(t, err)
	defer l.Close()

	assert.NotNil(t, l.Runs)
	assert.NotNil(t, l.GormDB())
	assert.NoError(t, l.HealthCheck(t.Context()))
}

func TestNewGormDB_UnsupportedType(t *testing.T) {
	_, err := NewGormDB(&DBConfig{Type: "mongo"})
	assert.Error(t, err)
}

func TestNewGormDB_DefaultsToSQLite(t *testing.T) {
	db, err := NewGormDB(&DBConfig{Database: ":memory:"})
	require.NoError(t, err)
	assert.NotNil(t, db)
}

func TestDBConfig_Fields(t *testing.T) {
	cfg := &DBConfig{
		Type:     "postgres",
		Host:     "localhost",
		Port:     5432,
		Database: "testdb",
		User:     "testuser",
		Password: "testpass",
		MaxConns: 10,
	}
	assert.Equal(t, "postgres", cfg.Type)
	assert.Equal(t, 5432, cfg.Port)
}

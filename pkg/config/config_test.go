package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
lm:
  path: ngram.bin
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 1<<16, cfg.Engine.ArenaNodeCapacity)
	assert.Equal(t, 1024, cfg.Engine.RefillBatchBase)
	assert.Equal(t, 1024, cfg.Engine.RefillBatchJitter)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.InDelta(t, 0.9, cfg.Engine.NucleusTopP, 1e-9)
	assert.Equal(t, "sqlite", cfg.Ledger.Type)
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
engine:
  workers: 8
  nucleus_top_p: 0.95
  arena_node_capacity: 2048
lm:
  path: ngram.bin
  source:
    type: local
    local_path: /tmp/models
ledger:
  type: postgres
  host: db.example.com
  port: 5432
  database: dagsearch
  user: admin
  password: secret
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.InDelta(t, 0.95, cfg.Engine.NucleusTopP, 1e-9)
	assert.Equal(t, 2048, cfg.Engine.ArenaNodeCapacity)
	assert.Equal(t, "ngram.bin", cfg.LM.Path)
	assert.Equal(t, "/tmp/models", cfg.LM.Source.LocalPath)
	assert.Equal(t, "db.example.com", cfg.Ledger.Host)
	assert.Equal(t, 5432, cfg.Ledger.Port)
	assert.Equal(t, "dagsearch", cfg.Ledger.Database)
}

func TestLoad_InvalidLedgerType(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
ledger:
  type: mongo
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	_, err = Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported ledger database type")
}

func TestLoad_COSSource(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
lm:
  path: ngram.bin
  source:
    type: cos
    bucket: test-bucket
    region: ap-guangzhou
    secret_id: test-id
    secret_key: test-key
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "cos", cfg.LM.Source.Type)
	assert.Equal(t, "test-bucket", cfg.LM.Source.Bucket)
}

func TestValidate_ZeroWorkers(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{
			Workers:           0,
			ArenaNodeCapacity: 1,
			NucleusTopP:       0.9,
		},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "engine.workers must be at least 1")
}

func TestValidate_InvalidTopP(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{
			Workers:                1,
			ArenaNodeCapacity:      1,
			ArenaStepScoreCapacity: 1,
			ArenaNotifyCapacity:    1,
			NucleusTopP:            1.5,
			MapBucketCount:         1,
		},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nucleus_top_p")
}

func TestValidate_InvalidLedgerType(t *testing.T) {
	cfg := &Config{
		Engine: EngineConfig{
			Workers:                1,
			ArenaNodeCapacity:      1,
			ArenaStepScoreCapacity: 1,
			ArenaNotifyCapacity:    1,
			NucleusTopP:            0.9,
			MapBucketCount:         1,
		},
		Ledger: LedgerConfig{Type: "mongo"},
	}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported ledger database type")
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestLoadFromReader(t *testing.T) {
	content := []byte(`
engine:
  workers: 6
ledger:
  type: mysql
  host: mysql.local
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Engine.Workers)
	assert.Equal(t, "mysql", cfg.Ledger.Type)
	assert.Equal(t, "mysql.local", cfg.Ledger.Host)
}

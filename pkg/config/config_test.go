package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "treasury.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "confirmed", cfg.Ledger.Commitment)
	assert.Equal(t, 500*time.Millisecond, cfg.Ledger.PollInterval)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 32768, cfg.Custody.ScryptN)
	assert.Empty(t, cfg.Custody.MasterSecret)
	assert.True(t, cfg.Allows(contracts.ExecSwap))
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, `
log_level: DEBUG
ledger:
  commitment: finalized
  rpc_url: http://file:8899
retry:
  max_attempts: 5
execution:
  allowed_types: [vote, swap]
`)
	t.Setenv("TREASURY_RPC_URL", "http://env:8899")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel, "file overrides default")
	assert.Equal(t, "finalized", cfg.Ledger.Commitment)
	assert.Equal(t, "http://env:8899", cfg.Ledger.RPCURL, "env overrides file")
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay, "unset keys keep defaults")
	assert.True(t, cfg.Allows(contracts.ExecVote))
	assert.False(t, cfg.Allows(contracts.ExecBet))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Ledger.Commitment = "eventually"
	cfg.Retry.MaxAttempts = 0
	cfg.Execution.Schemas = map[string]string{"lottery": "x.json"}

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max attempts")
	assert.Contains(t, err.Error(), "lottery")
}

func TestKMSConfig_RequiresSecret(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	_, err = cfg.KMSConfig()
	assert.Error(t, err, "no built-in master secret")

	cfg.Custody.MasterSecret = "base64:c2VjcmV0LXNlY3JldC1zZWNyZXQ="
	cfg.Custody.Salt = "0123456789abcdef"
	kc, err := cfg.KMSConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte("secret-secret-secret"), kc.MasterSecret)
	assert.Equal(t, 8, kc.KDF.R)

	cfg.Custody.MasterSecret = "base64:!!"
	_, err = cfg.KMSConfig()
	assert.Error(t, err)
}

func TestRetryPolicy(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 4*time.Second, p.Delay(2))
}

package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pintheon/pinner/testing/assert"
	"github.com/pintheon/pinner/testing/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.ContractID = "CCPINSERVICE"
	return cfg
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, cfg.Mode)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, int64(DefaultMinPrice), cfg.MinPrice)
	assert.Equal(t, DefaultClaimRetries, cfg.ClaimRetries)
	assert.Equal(t, "127.0.0.1", cfg.IPCHost)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinner.yaml")
	raw := `mode: approve
min_price: 5000
contract_id: CCPINSERVICE
claim_retries: 7
hunter:
  enabled: true
  failure_threshold: 5
`
	require.NoError(t, ioutil.WriteFile(path, []byte(raw), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ModeApprove, cfg.Mode)
	assert.Equal(t, int64(5000), cfg.MinPrice)
	assert.Equal(t, 7, cfg.ClaimRetries)
	assert.Equal(t, true, cfg.Hunter.Enabled)
	assert.Equal(t, 5, cfg.Hunter.FailureThreshold)
	// Untouched values keep their defaults. Claim and fetch retries are
	// independent knobs.
	assert.Equal(t, DefaultFetchRetries, cfg.FetchRetries)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultCycleInterval, cfg.Hunter.CycleInterval)
}

func TestLoad_UnknownKeysAreRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinner.yaml")
	require.NoError(t, ioutil.WriteFile(path, []byte("secret_key: SSHOULDNOTBEHERE\n"), 0600))

	_, err := Load(path)
	require.ErrorContains(t, "could not parse config file", err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "bad mode",
			mutate:  func(cfg *Config) { cfg.Mode = "sometimes" },
			wantErr: "invalid mode",
		},
		{
			name:    "missing contract",
			mutate:  func(cfg *Config) { cfg.ContractID = "" },
			wantErr: "no contract id",
		},
		{
			name:    "missing rpc url",
			mutate:  func(cfg *Config) { cfg.RPCURL = "" },
			wantErr: "no ledger RPC URL",
		},
		{
			name:    "negative min price",
			mutate:  func(cfg *Config) { cfg.MinPrice = -1 },
			wantErr: "min_price cannot be negative",
		},
		{
			name: "hunter threshold",
			mutate: func(cfg *Config) {
				cfg.Hunter.Enabled = true
				cfg.Hunter.FailureThreshold = 0
			},
			wantErr: "failure_threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, tt.wantErr, err)
		})
	}
}

// Package config defines the typed configuration for the pinner daemon,
// loaded from an optional YAML file with flag and environment overrides
// applied by the caller.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Mode is the daemon operating mode.
type Mode string

const (
	// ModeAuto pins and claims offers immediately after they pass the filter.
	ModeAuto Mode = "auto"
	// ModeApprove queues accepted offers for explicit operator approval.
	ModeApprove Mode = "approve"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeApprove
}

// Default values for the daemon configuration. Durations are expressed in
// seconds and sizes in bytes, matching the on-disk config file format.
const (
	DefaultPollInterval      = 5
	DefaultErrorBackoff      = 30
	DefaultPinTimeout        = 60
	DefaultFetchRetries      = 3
	DefaultClaimRetries      = 3
	DefaultMinPrice          = 100
	DefaultMaxContentSize    = 1 << 30 // 1 GiB
	DefaultEstimatedTxFee    = 100_000
	DefaultOfferTTL          = 86400
	DefaultCycleInterval     = 3600
	DefaultCheckTimeout      = 30
	DefaultMaxConcurrent     = 5
	DefaultFailureThreshold  = 3
	DefaultCooldownAfterFlag = 86400
	DefaultPinnerCacheTTL    = 3600
	DefaultIPCPort           = 8777
	DefaultMonitoringPort    = 8778
)

// SecretKeyEnvVar is the environment variable holding the operator's secret
// seed. The seed is never read from the config file.
const SecretKeyEnvVar = "PINNER_SECRET_KEY"

// HunterConfig holds configuration for the verification subsystem.
type HunterConfig struct {
	Enabled             bool     `yaml:"enabled"`
	CycleInterval       int      `yaml:"cycle_interval"`
	CheckTimeout        int      `yaml:"check_timeout"`
	MaxConcurrentChecks int      `yaml:"max_concurrent_checks"`
	FailureThreshold    int      `yaml:"failure_threshold"`
	CooldownAfterFlag   int      `yaml:"cooldown_after_flag"`
	PinnerCacheTTL      int      `yaml:"pinner_cache_ttl"`
	VerificationMethods []string `yaml:"verification_methods"`
}

// Config is the complete daemon configuration.
type Config struct {
	// Daemon.
	Mode           Mode   `yaml:"mode"`
	PollInterval   int    `yaml:"poll_interval"`
	ErrorBackoff   int    `yaml:"error_backoff"`
	DataDir        string `yaml:"data_dir"`
	UnpinOnRelease bool   `yaml:"unpin_on_release"`
	OfferTTL       int    `yaml:"offer_ttl"`

	// Ledger.
	Network           string `yaml:"network"`
	RPCURL            string `yaml:"rpc_url"`
	NetworkPassphrase string `yaml:"network_passphrase"`
	ContractID        string `yaml:"contract_id"`
	EstimatedTxFee    int64  `yaml:"estimated_tx_fee"`
	ClaimRetries      int    `yaml:"claim_retries"`

	// Storage node.
	KuboRPCURL     string `yaml:"kubo_rpc_url"`
	PinTimeout     int    `yaml:"pin_timeout"`
	MaxContentSize int64  `yaml:"max_content_size"`
	FetchRetries   int    `yaml:"fetch_retries"`

	// Policy.
	MinPrice int64 `yaml:"min_price"`

	// IPC + monitoring.
	IPCHost        string `yaml:"ipc_host"`
	IPCPort        int    `yaml:"ipc_port"`
	MonitoringPort int    `yaml:"monitoring_port"`

	// Hunter.
	Hunter HunterConfig `yaml:"hunter"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Mode:           ModeAuto,
		PollInterval:   DefaultPollInterval,
		ErrorBackoff:   DefaultErrorBackoff,
		DataDir:        defaultDataDir(),
		OfferTTL:       DefaultOfferTTL,
		Network:        "testnet",
		RPCURL:         "http://127.0.0.1:8000",
		EstimatedTxFee: DefaultEstimatedTxFee,
		ClaimRetries:   DefaultClaimRetries,
		KuboRPCURL:     "http://127.0.0.1:5001",
		PinTimeout:     DefaultPinTimeout,
		MaxContentSize: DefaultMaxContentSize,
		FetchRetries:   DefaultFetchRetries,
		MinPrice:       DefaultMinPrice,
		IPCHost:        "127.0.0.1",
		IPCPort:        DefaultIPCPort,
		MonitoringPort: DefaultMonitoringPort,
		Hunter: HunterConfig{
			CycleInterval:       DefaultCycleInterval,
			CheckTimeout:        DefaultCheckTimeout,
			MaxConcurrentChecks: DefaultMaxConcurrent,
			FailureThreshold:    DefaultFailureThreshold,
			CooldownAfterFlag:   DefaultCooldownAfterFlag,
			PinnerCacheTTL:      DefaultPinnerCacheTTL,
			VerificationMethods: []string{"dht_provider", "bitswap"},
		},
	}
}

// Load reads the YAML config file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := ioutil.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrapf(err, "could not read config file %s", path)
	}
	if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "could not parse config file")
	}
	return cfg, nil
}

// Validate checks the configuration for fatal startup errors.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return errors.Errorf("invalid mode %q, must be one of: auto, approve", c.Mode)
	}
	if c.ContractID == "" {
		return errors.New("no contract id configured")
	}
	if c.RPCURL == "" {
		return errors.New("no ledger RPC URL configured")
	}
	if c.KuboRPCURL == "" {
		return errors.New("no kubo RPC URL configured")
	}
	if c.MinPrice < 0 {
		return errors.New("min_price cannot be negative")
	}
	if c.MaxContentSize <= 0 {
		return errors.New("max_content_size must be positive")
	}
	if c.Hunter.Enabled && c.Hunter.FailureThreshold < 1 {
		return errors.New("hunter failure_threshold must be at least 1")
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pinner"
	}
	return filepath.Join(home, ".pinner")
}

// Package flags defines the command line flags accepted by the pinner
// daemon. Every flag overrides the corresponding config file value.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// ConfigFileFlag points at the YAML configuration file.
	ConfigFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to the YAML configuration file",
	}
	// DataDirFlag sets the directory holding the state database.
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Directory for the daemon's state database",
	}
	// VerbosityFlag sets the logging level.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info, warn, error, fatal, panic)",
		Value: "info",
	}
	// LogFormatFlag selects the log output format.
	LogFormatFlag = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Log format, either text or json",
		Value: "text",
	}
	// ModeFlag selects the operating mode.
	ModeFlag = &cli.StringFlag{
		Name:  "mode",
		Usage: "Operating mode, either auto or approve",
	}
	// RPCURLFlag sets the ledger JSON-RPC endpoint.
	RPCURLFlag = &cli.StringFlag{
		Name:  "rpc-url",
		Usage: "Ledger JSON-RPC endpoint",
	}
	// ContractIDFlag sets the pin-service contract address.
	ContractIDFlag = &cli.StringFlag{
		Name:  "contract-id",
		Usage: "Pin service contract address",
	}
	// NetworkPassphraseFlag sets the network passphrase mixed into
	// transaction signatures.
	NetworkPassphraseFlag = &cli.StringFlag{
		Name:  "network-passphrase",
		Usage: "Network passphrase for transaction signing",
	}
	// KuboRPCURLFlag sets the local storage node's RPC endpoint.
	KuboRPCURLFlag = &cli.StringFlag{
		Name:  "kubo-rpc-url",
		Usage: "Local IPFS (Kubo) node RPC endpoint",
	}
	// KeyFileFlag points at a file holding the operator secret seed,
	// consulted when the PINNER_SECRET_KEY environment variable is unset.
	KeyFileFlag = &cli.StringFlag{
		Name:  "keyfile",
		Usage: "Path to a file holding the operator secret seed",
	}
	// MinPriceFlag sets the minimum acceptable offer price.
	MinPriceFlag = &cli.Int64Flag{
		Name:  "min-price",
		Usage: "Minimum offer price in stroops",
	}
	// IPCPortFlag sets the control API port.
	IPCPortFlag = &cli.IntFlag{
		Name:  "ipc-port",
		Usage: "Control API port on localhost",
	}
	// MonitoringHostFlag sets the metrics listener host.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host for the metrics and health endpoints",
		Value: "127.0.0.1",
	}
	// MonitoringPortFlag sets the metrics listener port.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port for the metrics and health endpoints",
	}
	// EnableHunterFlag turns on the verification subsystem.
	EnableHunterFlag = &cli.BoolFlag{
		Name:  "enable-hunter",
		Usage: "Audit other pinners' claims against content published by this operator",
	}
	// UnpinOnReleaseFlag unpins content when its slot is withdrawn.
	UnpinOnReleaseFlag = &cli.BoolFlag{
		Name:  "unpin-on-release",
		Usage: "Unpin local content when the publisher withdraws the slot",
	}
	// ClearDBFlag wipes the state database before starting.
	ClearDBFlag = &cli.BoolFlag{
		Name:  "clear-db",
		Usage: "Clear the state database before starting",
	}
)

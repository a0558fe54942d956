// Package node is the main process which handles the lifecycle of the
// runtime services in a pinner daemon, gracefully shutting everything down
// upon close.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/pintheon/pinner/async"
	"github.com/pintheon/pinner/config"
	"github.com/pintheon/pinner/monitoring/prometheus"
	"github.com/pintheon/pinner/pinner/daemon"
	"github.com/pintheon/pinner/pinner/db"
	"github.com/pintheon/pinner/pinner/filter"
	"github.com/pintheon/pinner/pinner/flags"
	"github.com/pintheon/pinner/pinner/hunter"
	"github.com/pintheon/pinner/pinner/ipfs"
	"github.com/pintheon/pinner/pinner/keys"
	"github.com/pintheon/pinner/pinner/rpc"
	"github.com/pintheon/pinner/pinner/stellar"
	"github.com/pintheon/pinner/runtime"
	"github.com/pintheon/pinner/runtime/version"
)

var log = logrus.WithField("prefix", "node")

const kuboProbeTimeout = 10 * time.Second

// NotPinnerExitCode is the process exit code used when the contract
// reports the operator is not a registered, active pinner.
const NotPinnerExitCode = 2

// PinnerNode owns the lifecycle of every daemon service.
type PinnerNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.Config
	services *runtime.ServiceRegistry
	db       db.Database
	ledger   *stellar.Client

	lock     sync.RWMutex
	stop     chan struct{}
	stopOnce sync.Once
	exitCode int
}

// NewPinnerNode assembles a pinner daemon from configuration.
func NewPinnerNode(cliCtx *cli.Context) (*PinnerNode, error) {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return nil, err
	}

	keypair, err := keys.Load(config.SecretKeyEnvVar, cliCtx.String(flags.KeyFileFlag.Name))
	if err != nil {
		return nil, errors.Wrapf(err, "set %s or pass --%s", config.SecretKeyEnvVar, flags.KeyFileFlag.Name)
	}
	log.WithField("operator", keypair.Address()).Info("Operator key loaded")

	ctx, cancel := context.WithCancel(context.Background())
	node := &PinnerNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	if cliCtx.Bool(flags.ClearDBFlag.Name) {
		if err := clearDB(cfg.DataDir); err != nil {
			cancel()
			return nil, err
		}
	}
	store, err := db.NewDB(cfg.DataDir)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not open state database")
	}
	node.db = store

	kubo := ipfs.NewClient(cfg.KuboRPCURL, time.Duration(cfg.PinTimeout)*time.Second)
	probeCtx, probeCancel := context.WithTimeout(ctx, kuboProbeTimeout)
	info, err := kubo.ID(probeCtx)
	probeCancel()
	if err != nil {
		node.closeDB()
		cancel()
		return nil, errors.Wrapf(err, "storage node unreachable at %s", cfg.KuboRPCURL)
	}
	log.WithField("peerID", info.ID).Info("Connected to local storage node")

	ledger, err := stellar.Dial(ctx, cfg.RPCURL)
	if err != nil {
		node.closeDB()
		cancel()
		return nil, errors.Wrapf(err, "could not reach ledger RPC at %s", cfg.RPCURL)
	}
	node.ledger = ledger

	queries := stellar.NewQueries(ledger, cfg.ContractID, keypair.Address())
	sender := stellar.NewTxSender(ledger, cfg.ContractID, cfg.NetworkPassphrase, keypair, cfg.EstimatedTxFee)
	claimer := stellar.NewClaimSubmitter(sender)

	cursor, err := store.Cursor(ctx)
	if err != nil {
		node.Close()
		return nil, err
	}
	var startLedger uint64
	if cursor > 0 {
		startLedger = cursor + 1
	}
	poller := stellar.NewPoller(ledger, cfg.ContractID, startLedger,
		10*time.Duration(cfg.ErrorBackoff)*time.Second)

	fetcher := ipfs.NewGatewayFetcher(time.Duration(cfg.PinTimeout)*time.Second, cfg.MaxContentSize)
	executor := ipfs.NewExecutor(kubo, fetcher, time.Duration(cfg.PinTimeout)*time.Second, cfg.FetchRetries)

	offerFilter := filter.New(store, queries, fetcher, claimer, keypair.Address(), filter.Policy{
		MinPrice:       cfg.MinPrice,
		MaxContentSize: cfg.MaxContentSize,
	})

	var hunterSvc *hunter.Service
	if cfg.Hunter.Enabled {
		registry := hunter.NewRegistry(store, queries, time.Duration(cfg.Hunter.PinnerCacheTTL)*time.Second)
		verifier := hunter.NewVerifier(kubo, time.Duration(cfg.Hunter.CheckTimeout)*time.Second, cfg.Hunter.VerificationMethods)
		flagger := hunter.NewFlagSubmitter(store, stellar.NewFlagSender(sender))
		hunterSvc = hunter.NewService(ctx, hunter.Config{
			OperatorAddress:     keypair.Address(),
			CycleInterval:       time.Duration(cfg.Hunter.CycleInterval) * time.Second,
			MaxConcurrentChecks: cfg.Hunter.MaxConcurrentChecks,
			FailureThreshold:    cfg.Hunter.FailureThreshold,
			CooldownAfterFlag:   time.Duration(cfg.Hunter.CooldownAfterFlag) * time.Second,
		}, store, verifier, registry, flagger, async.RunEvery)
	}

	var sink daemon.HunterSink
	if hunterSvc != nil {
		sink = hunterSvc
	}
	daemonSvc := daemon.New(ctx, daemon.Config{
		OperatorAddress: keypair.Address(),
		Mode:            cfg.Mode,
		PollInterval:    time.Duration(cfg.PollInterval) * time.Second,
		ErrorBackoff:    time.Duration(cfg.ErrorBackoff) * time.Second,
		OfferTTL:        time.Duration(cfg.OfferTTL) * time.Second,
		ClaimRetries:    cfg.ClaimRetries,
		UnpinOnRelease:  cfg.UnpinOnRelease,
	}, store, poller, offerFilter, executor, claimer, sink, node.onFatal)

	var hunterAPI rpc.Hunter
	if hunterSvc != nil {
		hunterAPI = hunterSvc
	}
	rpcSvc := rpc.NewService(rpc.Config{
		Host:            cfg.IPCHost,
		Port:            cfg.IPCPort,
		OperatorAddress: keypair.Address(),
		Network:         cfg.Network,
		SlotExpired:     queries.IsSlotExpired,
	}, store, daemonSvc, hunterAPI)

	if err := node.registerServices(daemonSvc, hunterSvc, rpcSvc); err != nil {
		node.Close()
		return nil, err
	}
	return node, nil
}

func (n *PinnerNode) registerServices(daemonSvc *daemon.Service, hunterSvc *hunter.Service, rpcSvc *rpc.Service) error {
	promSvc := prometheus.NewService(
		fmt.Sprintf("%s:%d", n.cliCtx.String(flags.MonitoringHostFlag.Name), n.cfg.MonitoringPort),
		n.services,
	)
	logrus.AddHook(prometheus.NewLogrusCollector())
	if err := n.services.RegisterService(promSvc); err != nil {
		return err
	}
	if err := n.services.RegisterService(daemonSvc); err != nil {
		return err
	}
	if hunterSvc != nil {
		if err := n.services.RegisterService(hunterSvc); err != nil {
			return err
		}
	}
	return n.services.RegisterService(rpcSvc)
}

// onFatal is handed to the daemon for unrecoverable contract refusals.
func (n *PinnerNode) onFatal(reason string) {
	log.WithField("reason", reason).Error("Unrecoverable contract refusal, shutting down")
	n.lock.Lock()
	n.exitCode = NotPinnerExitCode
	n.lock.Unlock()
	go n.Close()
}

// Start every service and block until an interrupt or a fatal error.
func (n *PinnerNode) Start() {
	n.lock.Lock()
	log.WithFields(logrus.Fields{
		"version": version.Version(),
		"network": n.cfg.Network,
	}).Info("Starting pinner daemon")
	n.services.StartAll()
	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic.")
			}
		}
		panic("Panic closing the pinner daemon")
	}()

	<-stop
}

// Close handles graceful shutdown of the system.
func (n *PinnerNode) Close() {
	n.stopOnce.Do(func() {
		n.lock.Lock()
		defer n.lock.Unlock()

		n.services.StopAll()
		if n.ledger != nil {
			n.ledger.Close()
		}
		n.closeDB()
		n.cancel()
		log.Info("Stopping pinner daemon")
		close(n.stop)
	})
}

// ExitCode reports the code the process should exit with.
func (n *PinnerNode) ExitCode() int {
	n.lock.RLock()
	defer n.lock.RUnlock()
	return n.exitCode
}

func (n *PinnerNode) closeDB() {
	if n.db == nil {
		return
	}
	if err := n.db.Close(); err != nil {
		log.WithError(err).Error("Could not close state database")
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cliCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cliCtx.String(flags.ConfigFileFlag.Name))
	if err != nil {
		return nil, err
	}
	if cliCtx.IsSet(flags.DataDirFlag.Name) {
		cfg.DataDir = cliCtx.String(flags.DataDirFlag.Name)
	}
	if cliCtx.IsSet(flags.ModeFlag.Name) {
		cfg.Mode = config.Mode(cliCtx.String(flags.ModeFlag.Name))
	}
	if cliCtx.IsSet(flags.RPCURLFlag.Name) {
		cfg.RPCURL = cliCtx.String(flags.RPCURLFlag.Name)
	}
	if cliCtx.IsSet(flags.ContractIDFlag.Name) {
		cfg.ContractID = cliCtx.String(flags.ContractIDFlag.Name)
	}
	if cliCtx.IsSet(flags.NetworkPassphraseFlag.Name) {
		cfg.NetworkPassphrase = cliCtx.String(flags.NetworkPassphraseFlag.Name)
	}
	if cliCtx.IsSet(flags.KuboRPCURLFlag.Name) {
		cfg.KuboRPCURL = cliCtx.String(flags.KuboRPCURLFlag.Name)
	}
	if cliCtx.IsSet(flags.MinPriceFlag.Name) {
		cfg.MinPrice = cliCtx.Int64(flags.MinPriceFlag.Name)
	}
	if cliCtx.IsSet(flags.IPCPortFlag.Name) {
		cfg.IPCPort = cliCtx.Int(flags.IPCPortFlag.Name)
	}
	if cliCtx.IsSet(flags.MonitoringPortFlag.Name) {
		cfg.MonitoringPort = cliCtx.Int(flags.MonitoringPortFlag.Name)
	}
	if cliCtx.IsSet(flags.EnableHunterFlag.Name) {
		cfg.Hunter.Enabled = cliCtx.Bool(flags.EnableHunterFlag.Name)
	}
	if cliCtx.IsSet(flags.UnpinOnReleaseFlag.Name) {
		cfg.UnpinOnRelease = cliCtx.Bool(flags.UnpinOnReleaseFlag.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func clearDB(dataDir string) error {
	store, err := db.NewDB(dataDir)
	if err != nil {
		return errors.Wrap(err, "could not open state database to clear it")
	}
	if err := store.Close(); err != nil {
		return err
	}
	log.WithField("databasePath", dataDir).Warn("Clearing state database")
	return store.ClearDB()
}

// Package main launches the pinner daemon, an autonomous agent that
// watches a ledger for pin offers, stores the content on a local IPFS
// node, and collects the offered payments.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/pintheon/pinner/pinner/flags"
	"github.com/pintheon/pinner/pinner/node"
	"github.com/pintheon/pinner/runtime/version"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.ConfigFileFlag,
	flags.DataDirFlag,
	flags.VerbosityFlag,
	flags.LogFormatFlag,
	flags.ModeFlag,
	flags.RPCURLFlag,
	flags.ContractIDFlag,
	flags.NetworkPassphraseFlag,
	flags.KuboRPCURLFlag,
	flags.KeyFileFlag,
	flags.MinPriceFlag,
	flags.IPCPortFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.EnableHunterFlag,
	flags.UnpinOnReleaseFlag,
	flags.ClearDBFlag,
}

func startDaemon(cliCtx *cli.Context) error {
	daemon, err := node.NewPinnerNode(cliCtx)
	if err != nil {
		return err
	}
	daemon.Start()
	if code := daemon.ExitCode(); code != 0 {
		os.Exit(code)
	}
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "pinner"
	app.Usage = "launches a pinning daemon that earns payments for storing published IPFS content"
	app.Version = version.Version()
	app.Flags = appFlags
	app.Action = startDaemon
	app.Commands = []*cli.Command{
		statusCommand,
	}
	app.Before = func(ctx *cli.Context) error {
		level, err := logrus.ParseLevel(ctx.String(flags.VerbosityFlag.Name))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		switch format := ctx.String(flags.LogFormatFlag.Name); format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			logrus.SetFormatter(formatter)
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		default:
			return fmt.Errorf("unknown log format %s", format)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

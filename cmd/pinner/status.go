package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/pintheon/pinner/config"
	"github.com/pintheon/pinner/pinner/flags"
)

// statusCommand queries a running daemon's control API and prints a short
// summary.
var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "query a running daemon and print its status",
	Flags: []cli.Flag{
		flags.IPCPortFlag,
	},
	Action: func(cliCtx *cli.Context) error {
		port := cliCtx.Int(flags.IPCPortFlag.Name)
		if port == 0 {
			port = config.DefaultIPCPort
		}
		url := fmt.Sprintf("http://127.0.0.1:%d/v1/status", port)

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			return errors.Wrap(err, "daemon is not reachable, is it running?")
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("daemon returned status %d", resp.StatusCode)
		}

		var status struct {
			Version   string `json:"version"`
			Operator  string `json:"operator"`
			Network   string `json:"network"`
			Mode      string `json:"mode"`
			Cursor    uint64 `json:"cursor"`
			UptimeSec int64  `json:"uptime_sec"`
			PinCount  int    `json:"pin_count"`
			QueueSize int    `json:"queue_size"`
			Earnings  struct {
				TotalEarned int64 `json:"total_earned"`
				Earned24h   int64 `json:"earned_24h"`
				ClaimsCount int   `json:"claims_count"`
			} `json:"earnings"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return errors.Wrap(err, "could not decode status response")
		}

		w := os.Stdout
		fmt.Fprintf(w, "%s\n", status.Version)
		fmt.Fprintf(w, "operator:  %s\n", status.Operator)
		fmt.Fprintf(w, "network:   %s\n", status.Network)
		fmt.Fprintf(w, "mode:      %s\n", status.Mode)
		fmt.Fprintf(w, "cursor:    ledger %d\n", status.Cursor)
		fmt.Fprintf(w, "uptime:    %s\n", (time.Duration(status.UptimeSec) * time.Second).String())
		fmt.Fprintf(w, "pins:      %d\n", status.PinCount)
		fmt.Fprintf(w, "queue:     %d awaiting approval\n", status.QueueSize)
		fmt.Fprintf(w, "earnings:  %s stroops total (%s in 24h, %d claims)\n",
			humanize.Comma(status.Earnings.TotalEarned),
			humanize.Comma(status.Earnings.Earned24h),
			status.Earnings.ClaimsCount)
		return nil
	},
}

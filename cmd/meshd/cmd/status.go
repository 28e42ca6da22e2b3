/* SPDX-License-Identifier: MIT
 *
 * "status" stands the engine up just long enough to observe one status
 * snapshot, rendered with
 * olekukonko/tablewriter the way ptpcheck's sources command renders its
 * unicast master table (cmd/ptpcheck/cmd/sources.go).
 */
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/SaemsCodes/offline-radio-sub000/engine"
	"github.com/SaemsCodes/offline-radio-sub000/host"
	"github.com/SaemsCodes/offline-radio-sub000/status"
)

var statusObserveFor time.Duration

func init() {
	statusCmd.Flags().DurationVar(&statusObserveFor, "observe-for", 3*time.Second, "how long to listen before printing status")
	RootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a one-shot status snapshot",
	RunE: func(_ *cobra.Command, _ []string) error {
		log := configureLogging()

		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("meshd: load config: %w", err)
		}

		store, err := host.NewFileBlobStore(stateDirFlag)
		if err != nil {
			return fmt.Errorf("meshd: open state dir: %w", err)
		}
		svc := host.Services{
			Clock:  host.NewSystemClock(),
			Random: host.CryptoRandom{},
			Status: host.NewGopsutilStatus(),
			Store:  store,
		}

		eng, err := engine.New(cfg, svc, log)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := eng.PowerOn(ctx); err != nil {
			return err
		}
		defer eng.PowerOff()

		time.Sleep(statusObserveFor)

		snap := eng.CurrentStatus()
		printStatusTable(snap)
		return nil
	},
}

func printStatusTable(snap status.Snapshot) {
	online := color.RedString("offline")
	if snap.Online {
		online = color.GreenString("online")
	}
	fmt.Printf("link: %s  signal: %s\n\n", online, snap.SignalQuality.String())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"battery", "peers", "active peers", "avg latency (ms)", "reliability", "transports"})
	table.Append([]string{
		fmt.Sprintf("%d%%", snap.Battery),
		fmt.Sprintf("%d", snap.PeerCount),
		fmt.Sprintf("%d", snap.ActivePeerCount),
		fmt.Sprintf("%.1f", snap.AvgLatencyMs),
		fmt.Sprintf("%.1f", snap.Reliability),
		fmt.Sprintf("%v", snap.TransportsAvailable),
	})
	table.Render()
}

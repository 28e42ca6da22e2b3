/* SPDX-License-Identifier: MIT
 *
 * "run" starts the Engine as a foreground daemon: one Engine per process,
 * the way the teacher's main.go runs one Device per wireguard-go
 * invocation. sd_notify readiness signaling (coreos/go-systemd) replaces
 * the teacher's fork-based daemonize step, which has no analogue on a
 * handheld radio that's always supervised by systemd or an app lifecycle.
 */
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/SaemsCodes/offline-radio-sub000/engine"
	"github.com/SaemsCodes/offline-radio-sub000/host"
)

var (
	stateDirFlag   string
	metricsAddrFlag string
)

func init() {
	runCmd.Flags().StringVar(&stateDirFlag, "state-dir", "/var/lib/meshd", "directory for persisted node identity / pairings")
	runCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9190 (disabled if empty)")
	RootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mesh engine in the foreground",
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
		statusProvider := host.NewGopsutilStatus()

		svc := host.Services{
			Clock:  host.NewSystemClock(),
			Random: host.CryptoRandom{},
			Status: statusProvider,
			Store:  store,
		}

		eng, err := engine.New(cfg, svc, log)
		if err != nil {
			return fmt.Errorf("meshd: construct engine: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := eng.PowerOn(ctx); err != nil {
			return fmt.Errorf("meshd: power_on: %w", err)
		}
		log.WithField("node_id", eng.SelfID().String()).Info("meshd: powered on")

		if metricsAddrFlag != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(eng.Metrics(), promhttp.HandlerOpts{}))
			go func() {
				if err := http.ListenAndServe(metricsAddrFlag, mux); err != nil {
					log.WithError(err).Warn("meshd: metrics server stopped")
				}
			}()
		}

		if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			log.WithError(err).Debug("meshd: sd_notify failed")
		} else if ok {
			log.Debug("meshd: notified systemd of readiness")
		}

		printBanner(eng)

		term := make(chan os.Signal, 1)
		signal.Notify(term, syscall.SIGTERM, os.Interrupt)
		<-term

		log.Info("meshd: shutting down")
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		cancel()
		if err := eng.PowerOff(); err != nil {
			return fmt.Errorf("meshd: power_off: %w", err)
		}
		return nil
	},
}

func printBanner(eng *engine.Engine) {
	ok := color.GreenString("[ OK ]")
	fmt.Printf("%s meshd running as %s, listening on %d transports\n", ok, eng.SelfID().String(), eng.TransportCount())
}

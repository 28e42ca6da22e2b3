/* SPDX-License-Identifier: MIT
 *
 * "pair" exercises spec.md §4.11's pairing operations. Each invocation
 * is a fresh, short-lived Engine (no IPC to a running daemon exists in
 * this harness), so pairing codes generated here are only meaningful
 * within the lifetime of a single command pipeline, e.g. piping
 * generate's output into another node's ingest.
 */
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SaemsCodes/offline-radio-sub000/engine"
	"github.com/SaemsCodes/offline-radio-sub000/host"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

func init() {
	pairCmd.AddCommand(pairGenerateCmd, pairIngestCmd, pairVerifyCmd, pairRemoveCmd, pairRotateCmd)
	RootCmd.AddCommand(pairCmd)
}

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Generate, ingest, verify and remove pairing codes",
}

func newEphemeralEngine() (*engine.Engine, error) {
	log := configureLogging()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	store, err := host.NewFileBlobStore(stateDirFlag)
	if err != nil {
		return nil, err
	}
	svc := host.Services{
		Clock:  host.NewSystemClock(),
		Random: host.CryptoRandom{},
		Status: host.NewGopsutilStatus(),
		Store:  store,
	}
	return engine.New(cfg, svc, log)
}

var pairGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print a pairing code for out-of-band exchange",
	RunE: func(_ *cobra.Command, _ []string) error {
		eng, err := newEphemeralEngine()
		if err != nil {
			return err
		}
		code, err := eng.GeneratePairingCode()
		if err != nil {
			return err
		}
		fmt.Println(code)
		return nil
	},
}

var pairIngestCmd = &cobra.Command{
	Use:   "ingest <code>",
	Short: "Ingest a peer's pairing code, printing their node id",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		eng, err := newEphemeralEngine()
		if err != nil {
			return err
		}
		peer, err := eng.IngestPairingCode(args[0])
		if err != nil {
			return err
		}
		fmt.Println(peer.String())
		return nil
	},
}

var pairVerifyCmd = &cobra.Command{
	Use:   "verify <node-id-hex> <code>",
	Short: "Confirm the out-of-band verification code for a peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		eng, err := newEphemeralEngine()
		if err != nil {
			return err
		}
		peer, err := types.ParseNodeId(args[0])
		if err != nil {
			return err
		}
		ok, err := eng.VerifyPairing(peer, args[1])
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil
	},
}

var pairRemoveCmd = &cobra.Command{
	Use:   "remove <node-id-hex>",
	Short: "Remove a peer's pairing record",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		eng, err := newEphemeralEngine()
		if err != nil {
			return err
		}
		peer, err := types.ParseNodeId(args[0])
		if err != nil {
			return err
		}
		eng.RemovePairing(peer)
		return nil
	},
}

var pairRotateCmd = &cobra.Command{
	Use:   "rotate-keys",
	Short: "Regenerate this node's identity key pair, discarding all pairings",
	RunE: func(_ *cobra.Command, _ []string) error {
		eng, err := newEphemeralEngine()
		if err != nil {
			return err
		}
		return eng.RotateKeys()
	},
}

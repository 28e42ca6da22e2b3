/* SPDX-License-Identifier: MIT
 *
 * "send" and "emergency" exercise transmit_text/send_emergency_beacon
 * (spec.md §4.11). Like "pair", each invocation stands up a short-lived
 * Engine and powers it on just long enough to flush the packet onto the
 * transports, since this harness has no long-running daemon IPC.
 */
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SaemsCodes/offline-radio-sub000/engine"
	"github.com/SaemsCodes/offline-radio-sub000/host"
	"github.com/SaemsCodes/offline-radio-sub000/types"
)

var (
	sendEncrypt bool
	sendTo      string
	sendChannel uint8
	sendSettle  time.Duration
)

func init() {
	sendCmd.Flags().BoolVar(&sendEncrypt, "encrypt", false, "encrypt the transmission (requires a verified pairing)")
	sendCmd.Flags().StringVar(&sendTo, "to", "", "verified peer node id (hex) to encrypt for; required with --encrypt")
	sendCmd.Flags().Uint8Var(&sendChannel, "channel", 1, "channel to transmit on (1..99)")
	sendCmd.Flags().DurationVar(&sendSettle, "settle", 2*time.Second, "how long to keep the engine powered on to flush the send")
	RootCmd.AddCommand(sendCmd)

	emergencyCmd.Flags().Uint8Var(&sendChannel, "channel", 1, "channel to transmit on (1..99)")
	emergencyCmd.Flags().DurationVar(&sendSettle, "settle", 2*time.Second, "how long to keep the engine powered on to flush the send")
	RootCmd.AddCommand(emergencyCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Transmit text on the current channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		eng, err := startTransientEngine()
		if err != nil {
			return err
		}
		defer eng.PowerOff()

		if err := eng.SetChannel(sendChannel); err != nil {
			return err
		}
		var peer types.NodeId
		if sendEncrypt {
			if sendTo == "" {
				return fmt.Errorf("--to is required with --encrypt")
			}
			peer, err = types.ParseNodeId(sendTo)
			if err != nil {
				return err
			}
		}
		pid, err := eng.TransmitText(args[0], sendEncrypt, peer)
		if err != nil {
			return err
		}
		time.Sleep(sendSettle)
		fmt.Println(pid.String())
		return nil
	},
}

var emergencyCmd = &cobra.Command{
	Use:   "emergency <message>",
	Short: "Broadcast a priority emergency beacon",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		eng, err := startTransientEngine()
		if err != nil {
			return err
		}
		defer eng.PowerOff()

		if err := eng.SetChannel(sendChannel); err != nil {
			return err
		}
		pid, err := eng.SendEmergencyBeacon([]byte(args[0]), nil)
		if err != nil {
			return err
		}
		time.Sleep(sendSettle)
		fmt.Println(pid.String())
		return nil
	},
}

func startTransientEngine() (*engine.Engine, error) {
	eng, err := newEphemeralEngine()
	if err != nil {
		return nil, err
	}
	if err := eng.PowerOn(context.Background()); err != nil {
		return nil, err
	}
	return eng, nil
}

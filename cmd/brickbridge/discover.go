// cmd/brickbridge/discover.go
package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamzrod/brickbridge/internal/transport"
)

var (
	discoverTimeout time.Duration
	discoverKinds   []string
	discoverTarget  string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List bricks reachable over Bluetooth serial, USB and IP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds := map[transport.Kind]bool{}
		for _, s := range discoverKinds {
			k, err := transport.ParseKind(s)
			if err != nil {
				return err
			}
			kinds[k] = true
		}
		all := len(kinds) == 0

		out := cmd.OutOrStdout()
		errOut := cmd.ErrOrStderr()
		found := 0

		if all || kinds[transport.KindBluetooth] {
			eps, err := transport.DiscoverSerial(transport.DefaultSerialPatterns)
			found += report(out, errOut, transport.KindBluetooth, eps, err)
		}
		if all || kinds[transport.KindUSB] {
			eps, err := transport.DiscoverUSB(transport.DefaultVendorID, transport.DefaultProductID)
			found += report(out, errOut, transport.KindUSB, eps, err)
		}
		if all || kinds[transport.KindIP] {
			ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
			eps, err := transport.DiscoverIP(ctx, transport.IPDiscoveryConfig{Target: discoverTarget, Window: discoverTimeout})
			cancel()
			found += report(out, errOut, transport.KindIP, eps, err)
		}

		if found == 0 {
			fmt.Fprintln(out, "No bricks found.")
		}
		return nil
	},
}

func report(out, errOut io.Writer, kind transport.Kind, eps []transport.Endpoint, err error) int {
	if err != nil {
		fmt.Fprintf(errOut, "%s discovery failed: %v\n", kind, err)
		return 0
	}
	for _, ep := range eps {
		fmt.Fprintln(out, ep)
	}
	return len(eps)
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 2*time.Second, "how long to wait for IP replies")
	discoverCmd.Flags().StringSliceVar(&discoverKinds, "kind", nil, "limit to transport kinds: bluetooth, usb, ip")
	discoverCmd.Flags().StringVar(&discoverTarget, "target", "", "UDP probe destination (default broadcast)")
}

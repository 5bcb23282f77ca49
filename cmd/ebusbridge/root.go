package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. A fresh tree per call keeps flag state
// out of package globals so tests can execute commands independently.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ebusbridge",
		Short: "eBus heating bus decoder and bridge",
		Long: `ebusbridge - decode eBus traffic between a boiler and its controllers.

The run command reads the bus from a serial adapter or a raw TCP stream,
keeps the latest sensor readings, raises alerts and publishes everything to
Home Assistant over MQTT and a read-only HTTP API.

The decode and crc commands work offline on captured bytes.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(),
		newDecodeCmd(),
		newCRCCmd(),
		newVersionCmd(),
	)
	return root
}

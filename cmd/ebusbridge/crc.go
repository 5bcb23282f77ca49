package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/ebus-bridge/internal/ebus"
)

func newCRCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crc <hex bytes>",
		Short: "Print the CRC-8 of unescaped bytes under both polynomials",
		Example: `  ebusbridge crc 10 08 B5 11 01 01
  ebusbridge crc 1008b5110101`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := ebus.ParseHex(strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, poly := range []ebus.Polynomial{ebus.PolyCanonical, ebus.PolyAlternate} {
				fmt.Fprintf(out, "%s: 0x%02X\n", poly, ebus.NewChecksum(poly).Sum(data))
			}
			return nil
		},
	}
}

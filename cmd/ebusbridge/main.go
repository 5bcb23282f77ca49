// ebusbridge listens to an eBus heating bus, decodes what the boiler and its
// controllers say to each other, and publishes sensor readings and alerts
// over MQTT and HTTP.
//
// Usage:
//
//	ebusbridge run --config /etc/ebusbridge/config.yaml
//	ebusbridge decode --hex "AA 10 08 B5 11 01 01 89 00 09 ..."
//	ebusbridge crc 10 08 B5 11 01 01
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Cancel on Ctrl+C and SIGTERM for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Command yuha-agent answers yuha requests.
//
// Launched by the local, ssh or wsl transports it speaks over stdin and
// stdout (--stdio). Started as a service it accepts TCP connections,
// optionally with TLS, and can advertise itself over mDNS.
//
// Usage:
//
//	yuha-agent [flags]
//
// Examples:
//
//	# Serve one session over stdio (what the transports run)
//	yuha-agent --stdio
//
//	# Listen on the default port and advertise on the LAN
//	yuha-agent --listen :7421 --advertise
//
//	# TLS with client certificates and a metrics endpoint
//	yuha-agent --listen :7421 --cert agent.pem --key agent.key --client-ca clients.pem --metrics-addr :9121
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

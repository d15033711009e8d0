// Command yuha talks to a yuha agent on another machine or in another
// environment.
//
// The agent is reached over ssh, as a local child process, through WSL, or
// over a direct TCP socket. Settings come from a YAML or TOML file given
// with --config and may be overridden by flags.
//
// Usage:
//
//	yuha [flags] <command>
//
// Examples:
//
//	# Read the remote clipboard over ssh
//	yuha --kind ssh --ssh-host devbox --ssh-user alice --ssh-key ~/.ssh/id_ed25519 clipboard get
//
//	# Copy a file into the clipboard of a TCP agent
//	yuha --kind tcp --address devbox:7421 clipboard set < notes.txt
//
//	# Find agents on the local network
//	yuha discover --timeout 5s
//
//	# Summarize a protocol capture
//	yuha log stats session.ylog
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

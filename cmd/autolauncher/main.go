// Package main is the entry point for the BruteforceMovable autolauncher,
// the volunteer client that mines brute-force jobs for the server.
package main

import (
	"os"

	"github.com/Mike15678/bfm-seedminer-autolauncher/cmd/autolauncher/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

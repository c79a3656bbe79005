// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the kairos command-line client. Every command is a
// thin wrapper over one REST endpoint of a running kairos server.
package cli

import (
	"fmt"
	"os"
)

const (
	appName    = "kairos"
	appVersion = "0.1.0-alpha"
)

// Execute runs the CLI application
func Execute() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "search":
		return searchCommand(args)
	case "begin":
		return beginCommand(args)
	case "next":
		return nextCommand(args)
	case "attest":
		return attestCommand(args)
	case "mint":
		return mintCommand(args)
	case "update":
		return updateCommand(args)
	case "delete":
		return deleteCommand(args)
	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		return printUsage()
	}
}

func printUsage() error {
	fmt.Printf(`%s - protocol memory client

Usage:
  %s <command> [arguments]

Commands:
  search <query>            Search protocol memories
  begin <uri>               Start a protocol run at a step
  next <uri>                Submit a proof solution and advance
  attest <uri>              Record the outcome of a finished run
  mint <file.md>            Store a markdown protocol document
  update <uri>              Update a step from a markdown file or fields
  delete <uri> [uri...]     Delete steps
  version                   Print version information
  help                      Show this help message

Examples:
  %s search "deploy to staging"
  %s begin kairos://mem/3f2a.../1b9c...
  %s next kairos://mem/3f2a.../1b9c... --nonce abc --proof-hash def --comment "done"
  %s attest kairos://mem/3f2a.../1b9c... --outcome success
  %s mint deploy-protocol.md

The server address is taken from --server or the KAIROS_SERVER environment
variable (default http://localhost:8080).

`, appName, appName, appName, appName, appName, appName, appName)
	return nil
}

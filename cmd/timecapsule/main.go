// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

// Package main is the entry point for the timecapsule command.
//
// Time Capsule backs up the data domains of a local application to
// compressed archives, records small state in snapshots, and plans and
// executes point-in-time recovery.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (TIMECAPSULE_ prefix)
//   - Config file (--config, $TIMECAPSULE_CONFIG or ./timecapsule.yaml)
//   - Built-in defaults
//
// # Example Usage
//
//	timecapsule backup create --tag manual
//	timecapsule backup verify bk-20261018T120000.000000Z-full-1a2b3c4d
//	timecapsule recovery plan 36h --domain documents
//	timecapsule recovery execute plan-20261018T120500.000000Z-5e6f7a8b
//	timecapsule serve
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the running command. serve stops the HTTP
// server, waits for the scheduler and closes the catalog.
package main

import (
	"os"

	"github.com/tomtom215/timecapsule/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

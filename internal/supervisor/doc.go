// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

/*
Package supervisor runs the long-lived parts of the time capsule server under
a suture v4 supervisor tree.

	Root ("timecapsule")
	├── data-layer
	│   ├── events.AuditLogger
	│   └── services.StateGCService (badger state domains only)
	├── scheduling-layer
	│   └── services.SchedulerService (retention scheduler, if enabled)
	└── api-layer
	    └── services.HTTPServerService

A crashed service is restarted with backoff inside its own layer. Supervisor
events are logged through sutureslog on the zerolog-backed slog handler.
*/
package supervisor

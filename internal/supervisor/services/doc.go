// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

// Package services adapts long-running components to suture.Service.
//
// Each wrapper follows the same shape: start the component, block until the
// supervisor cancels the context, stop the component, and return ctx.Err().
// Returning any other error makes suture restart the service with backoff.
package services

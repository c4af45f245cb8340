// Package common provides shared constants, types, utilities, and interfaces
// used by both the UI-side bridge and the privileged host process.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: channel names shared by both processes, D-Bus naming, timeouts
//   - Errors: sentinel errors for consistent classification across packages
//   - Interfaces: the Logger abstraction and small wire value types
//   - Logger: leveled logging with file output and rotation
//   - Utils: correlation ids and config/data directory helpers
//
// # Usage
//
//	log := common.Component("correlator")
//	log.Debug("armed %s", id)
//
//	if errors.Is(err, common.ErrTimeout) {
//	    // the host never answered
//	}
//
// Channel names are case-sensitive and must match exactly between the
// sending process and the listener registration.
package common

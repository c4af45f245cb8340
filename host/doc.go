// Package host is the privileged side of the bridge.
//
// A Server answers correlated requests arriving over a transport, replying on
// the channel named by each request's correlation id, and serves native
// invokes. Window tracks the host window and pushes minimize, restore,
// maximize and unmaximize notifications. Updates brackets update checks and
// downloads with the update lifecycle broadcasts.
//
// The operations themselves (moving the real window, fetching updates) are
// supplied by the embedding application through Controller and Updater.
package host

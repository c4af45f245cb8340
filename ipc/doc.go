// Package ipc is the UI side of the bridge between an unprivileged UI process
// and its privileged host.
//
// The package is organized around four pieces:
//
//   - Channel: the message channel adapter, the only type that touches a
//     transport. It offers Send, On, Once and Invoke.
//   - Correlator: pairs each request with exactly one reply using a fresh
//     correlation id and a one-shot listener armed before the request is sent.
//   - Bus: republishes the host's update lifecycle broadcasts as one ordered
//     event stream.
//   - Mirror: keeps the host window's maximized and minimized flags current.
//
// A Session bundles them. Open returns a Connected session when a host is
// reachable and a Standalone one otherwise; Standalone requests fail fast with
// common.ErrStandalone.
//
// # Thread Safety
//
// All types are safe for concurrent use. Listeners and bus subscribers run on
// the Channel's dispatch goroutine and must not block waiting for a reply on
// the same Channel.
package ipc

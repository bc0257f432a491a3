// Package dispatch routes a conversation to one of the four provider adapters.
//
// The routing table is closed: only the providers named by universalis.Provider exist.
// Each call probes the provider (when it has a probe), builds the native request from the
// full turn history, invokes the provider exactly once and normalizes the reply. The store
// is only read; persistence is the caller's job after a successful reply.
package dispatch

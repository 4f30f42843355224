// Package registry tracks live client connections and fans messages out to them.
//
// A Registry maps connection ids to transports and keeps, per conversation,
// the set of connections that joined it. Broadcasts snapshot their targets
// under the lock, send concurrently outside it, then unregister any recipient
// whose send failed. Each registration carries a unique handle so cleanup of
// a stale registration never removes the one that replaced it.
package registry

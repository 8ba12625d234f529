// Package broadcast implements the server side of the event stream.
//
// The Registry owns every open stream using the actor pattern: a single goroutine holds the
// connection map and serializes register, unregister and scan commands. Each connection has
// its own writer goroutine draining a bounded queue, so a slow or dead subscriber never blocks
// the actor or its peers. The Broadcaster encodes envelopes once and fans them out; the
// Scheduler drives heartbeats and evicts stale connections.
package broadcast

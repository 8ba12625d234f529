// Package eventstream is the subscriber side of the event stream: it keeps one
// SSE connection open, reconnects with exponential backoff, drops duplicate
// envelopes and hands domain events to a Dispatcher.
package eventstream

// Package transport reads raw eBus bytes from a serial adapter or a TCP
// stream (ebusd raw port, ser2net) and hands them to a sink in arrival
// order.
//
// A Reader owns one Source. When a read fails it closes the source, waits
// with exponential backoff (x1.5, capped) and reopens it until the context
// is cancelled. Read timeouts are not errors; they only give the loop a
// chance to observe cancellation.
package transport

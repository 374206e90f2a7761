// Package constants holds shared numeric and timing constants for the reactor.
package constants

import "time"

// Listen port bounds enforced at startup.
const (
	MinPort = 1024
	MaxPort = 65535
)

// MaxConnections bounds the number of simultaneously live connections.
const MaxConnections = 65536

// ListenBacklog is the backlog passed to listen(2).
const ListenBacklog = 1024

// ScratchReadSize is the size of the stack scratch segment used by the
// buffer's scatter read so a single readv(2) can drain more than the
// buffer's current writable region.
const ScratchReadSize = 65536

// CheapPrepend is the reserved prependable region at the front of every
// buffer, used to slide readable bytes to offset 0 without reallocating.
const CheapPrepend = 8

// InitialBufferSize is the initial writable capacity of a fresh buffer.
const InitialBufferSize = 1024

// MaxWriteChunk is the pending-byte threshold under which a level-triggered
// connection stops looping on write and waits for the next writable event.
const MaxWriteChunk = 10240

// LingerTimeout is the SO_LINGER duration applied when linger is enabled.
const LingerTimeout = 3 * time.Second

// KeepAliveMax and KeepAliveTimeout describe the values advertised in the
// keep-alive response header.
const (
	KeepAliveMax     = 6
	KeepAliveTimeout = 120 * time.Second
)

// DefaultPollerMaxEvents bounds the number of events returned by one
// poller.Wait call.
const DefaultPollerMaxEvents = 1024

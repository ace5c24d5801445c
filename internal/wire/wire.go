// Package wire holds the protocol-agnostic transports the brand connectors
// and discovery engine speak over: SSDP multicast, line-delimited TCP,
// WebSocket and plain HTTP. Nothing here knows about TV brands.
package wire

import "errors"

// ErrNotConnected is returned by a transport used before dial or after close.
var ErrNotConnected = errors.New("wire: not connected")

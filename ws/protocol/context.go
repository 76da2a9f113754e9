package protocol

import (
	"context"

	"github.com/gorilla/websocket"
)

// Context exposes a protocol connection to hooks and handlers without
// tying them to a specific subprotocol implementation.
type Context interface {
	// ConnectionID returns the connection id
	ConnectionID() string

	// Subprotocol returns the negotiated subprotocol name
	Subprotocol() string

	// Context returns the original connection request context
	Context() context.Context

	// WS returns the websocket
	WS() *websocket.Conn

	// C returns the outgoing message channel
	C() chan OperationMessage

	// ConnectionInitReceived reports whether connection_init has arrived
	ConnectionInitReceived() bool

	// Acknowledged reports whether connection_ack has been sent
	Acknowledged() bool

	// ConnectionParams returns the params supplied with connection_init
	ConnectionParams() map[string]interface{}
}

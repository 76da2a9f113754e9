package graphqlws

import (
	"time"

	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
	"github.com/graphql-go/graphql/gqlerrors"
)

// CloseCode is a websocket close code
type CloseCode int

const (
	// Subprotocol is the deprecated graphql-ws subprotocol
	// https://github.com/apollographql/subscriptions-transport-ws/blob/master/PROTOCOL.md
	Subprotocol = protocol.GraphQLWS

	// CloseCodes - the legacy protocol only uses standard ones
	NormalClosure       CloseCode = 1000
	ProtocolError       CloseCode = 1002
	UnexpectedCondition CloseCode = 1011

	// Thresholds
	WriteTimeout             = 10 * time.Second
	CloseDeadlineDuration    = 100 * time.Millisecond
	DefaultKeepAliveInterval = 10 * time.Second
)

// StartMessage is a client start request
type StartMessage struct {
	ID      string                    `json:"id"`
	Type    protocol.MessageType      `json:"type"`
	Payload protocol.OperationPayload `json:"payload"`
}

// NewAckMessage creates a new ack message
func NewAckMessage() protocol.OperationMessage {
	return protocol.OperationMessage{
		Type: protocol.MsgConnectionAck,
	}
}

// NewKeepAliveMessage creates a new ka message
func NewKeepAliveMessage() protocol.OperationMessage {
	return protocol.OperationMessage{
		Type: protocol.MsgKeepAlive,
	}
}

// NewDataMessage creates a new data message
func NewDataMessage(id string, payload protocol.ExecutionResult) protocol.OperationMessage {
	return protocol.OperationMessage{
		ID:      id,
		Type:    protocol.MsgData,
		Payload: payload,
	}
}

// NewErrorMessage creates a new error message. The legacy protocol
// sends a single error object, not an array.
func NewErrorMessage(id string, err gqlerrors.FormattedError) protocol.OperationMessage {
	return protocol.OperationMessage{
		ID:      id,
		Type:    protocol.MsgError,
		Payload: err,
	}
}

// NewConnectionErrorMessage creates a new connection_error message
func NewConnectionErrorMessage(id string, message string) protocol.OperationMessage {
	return protocol.OperationMessage{
		ID:   id,
		Type: protocol.MsgConnectionError,
		Payload: map[string]interface{}{
			"message": message,
		},
	}
}

// NewCompleteMessage creates a new complete message
func NewCompleteMessage(id string) protocol.OperationMessage {
	return protocol.OperationMessage{
		ID:   id,
		Type: protocol.MsgComplete,
	}
}

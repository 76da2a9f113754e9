package graphqltransportws

import (
	"time"

	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
	"github.com/graphql-go/graphql/gqlerrors"
)

// CloseCode a closing code
type CloseCode int

const (
	// Subprotocol - https://github.com/enisdenjo/graphql-ws/blob/master/PROTOCOL.md
	Subprotocol = protocol.GraphQLTransportWS

	// Close codes
	Noop                             CloseCode = -1
	NormalClosure                    CloseCode = 1000
	InternalServerError              CloseCode = 4500
	InternalClientError              CloseCode = 4005
	BadRequest                       CloseCode = 4400
	BadResponse                      CloseCode = 4004
	Unauthorized                     CloseCode = 4401
	Forbidden                        CloseCode = 4403
	SubprotocolNotAcceptable         CloseCode = 4406
	ConnectionInitialisationTimeout  CloseCode = 4408
	ConnectionAcknowledgementTimeout CloseCode = 4504
	SubscriberAlreadyExists          CloseCode = 4409
	TooManyInitialisationRequests    CloseCode = 4429

	// Thresholds
	WriteTimeout                     = 10 * time.Second
	CloseDeadlineDuration            = 100 * time.Millisecond
	DefaultConnectionInitWaitTimeout = 3 * time.Second
)

type CompleteMessage struct {
	ID   string               `json:"id"`
	Type protocol.MessageType `json:"type"`
}

// ErrorMessage
type ErrorMessage struct {
	ID      string                    `json:"id"`
	Type    protocol.MessageType      `json:"type"`
	Payload gqlerrors.FormattedErrors `json:"payload"`
}

type SubscribeMessage struct {
	ID      string                    `json:"id"`
	Type    protocol.MessageType      `json:"type"`
	Payload protocol.OperationPayload `json:"payload"`
}

type NextMessage struct {
	ID      string                   `json:"id"`
	Type    protocol.MessageType     `json:"type"`
	Payload protocol.ExecutionResult `json:"payload"`
}

// NewAckMessage creates a new ack message
func NewAckMessage(payload interface{}) protocol.OperationMessage {
	return protocol.OperationMessage{
		Type:    protocol.MsgConnectionAck,
		Payload: payload,
	}
}

// NewPingMessage creates a new ping message
func NewPingMessage(payload interface{}) protocol.OperationMessage {
	return protocol.OperationMessage{
		Type:    protocol.MsgPing,
		Payload: payload,
	}
}

// NewPongMessage creates a new pong message
func NewPongMessage(payload interface{}) protocol.OperationMessage {
	return protocol.OperationMessage{
		Type:    protocol.MsgPong,
		Payload: payload,
	}
}

// NewNextMessage creates a new next message
func NewNextMessage(id string, payload protocol.ExecutionResult) protocol.OperationMessage {
	return protocol.OperationMessage{
		ID:      id,
		Type:    protocol.MsgNext,
		Payload: payload,
	}
}

// NewErrorMessage creates a new error message
func NewErrorMessage(id string, errs gqlerrors.FormattedErrors) protocol.OperationMessage {
	return protocol.OperationMessage{
		ID:      id,
		Type:    protocol.MsgError,
		Payload: errs,
	}
}

// NewCompleteMessage creates a new complete message
func NewCompleteMessage(id string) protocol.OperationMessage {
	return protocol.OperationMessage{
		ID:   id,
		Type: protocol.MsgComplete,
	}
}

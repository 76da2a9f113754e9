package protocol

import (
	"github.com/graphql-go/graphql/gqlerrors"
	jsoniter "github.com/json-iterator/go"
)

// MessageType is a message type
type MessageType string

const (
	// Common to both subprotocols
	MsgConnectionInit MessageType = "connection_init"
	MsgConnectionAck  MessageType = "connection_ack"
	MsgError          MessageType = "error"
	MsgComplete       MessageType = "complete"

	// graphql-transport-ws specific
	MsgPing      MessageType = "ping"
	MsgPong      MessageType = "pong"
	MsgSubscribe MessageType = "subscribe"
	MsgNext      MessageType = "next"

	// graphql-ws specific - deprecated subprotocol
	MsgKeepAlive           MessageType = "ka"
	MsgConnectionError     MessageType = "connection_error"
	MsgConnectionTerminate MessageType = "connection_terminate"
	MsgStart               MessageType = "start"
	MsgData                MessageType = "data"
	MsgStop                MessageType = "stop"
)

// OperationMessage is the frame shape shared by both subprotocols. The
// id and payload fields are omitted when empty, never sent as null.
type OperationMessage struct {
	ID      string      `json:"id,omitempty"`
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func (msg OperationMessage) String() string {
	s, _ := jsoniter.Marshal(msg)
	if s != nil {
		return string(s)
	}
	return "<invalid>"
}

// ExecutionResult is the payload of a next/data frame. The data key
// is always present, a field error on a stream item serializes as
// data null alongside the errors.
type ExecutionResult struct {
	Errors     gqlerrors.FormattedErrors `json:"errors,omitempty"`
	Data       interface{}               `json:"data"`
	Path       []interface{}             `json:"path,omitempty"`  // patch result
	Label      *string                   `json:"label,omitempty"` // patch result
	HasNext    *bool                     `json:"hasNext,omitempty"`
	Extensions map[string]interface{}    `json:"extensions,omitempty"`
}

// OperationPayload defines the parameters of an operation that a
// client requests with a subscribe or start message.
type OperationPayload struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	Extensions    map[string]interface{} `json:"extensions,omitempty"`
}

func (p *OperationPayload) Validate() error {
	if p.Query == "" {
		return errNoQuery
	}

	return nil
}

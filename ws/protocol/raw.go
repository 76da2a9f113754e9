package protocol

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var errNoQuery = errors.New("no query specified in operation payload")

// RawMessage is a decoded frame whose fields have not been validated
// yet. Each accessor validates the field it extracts so handlers can
// surface precise violation reasons.
type RawMessage map[string]interface{}

// UnmarshalRaw decodes a text frame into a raw message
func UnmarshalRaw(data []byte) (RawMessage, error) {
	msg := RawMessage{}
	if err := jsoniter.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "invalid message received")
	}

	return msg, nil
}

// stringField extracts a string value from a raw message
func (m RawMessage) stringField(name string) (string, error) {
	rawField, ok := m[name]
	if !ok || rawField == nil {
		return "", fmt.Errorf("message is missing the '%s' property", name)
	}

	strField, ok := rawField.(string)
	if !ok {
		return "", fmt.Errorf("message expects the '%s' property to be a string but got %T", name, rawField)
	}

	if strField == "" {
		return "", fmt.Errorf("message is missing the '%s' property", name)
	}

	return strField, nil
}

// Type validates and extracts the type field value from a raw message
func (m RawMessage) Type() (MessageType, error) {
	str, err := m.stringField("type")
	if err != nil {
		return "", err
	}

	return MessageType(str), nil
}

// ID validates and extracts the id field value from a raw message
func (m RawMessage) ID() (string, error) {
	return m.stringField("id")
}

// HasPayload returns true if the payload field exists and is not null
func (m RawMessage) HasPayload() bool {
	p, ok := m["payload"]
	return ok && p != nil
}

// Payload returns the raw payload
func (m RawMessage) Payload() interface{} {
	return m["payload"]
}

// RecordPayload converts the payload to a record
func (m RawMessage) RecordPayload() (map[string]interface{}, error) {
	payload, ok := m["payload"]
	if !ok || payload == nil {
		return nil, fmt.Errorf("message is missing the 'payload' property")
	}

	r := map[string]interface{}{}
	if err := ReMarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("failed to parse payload")
	}

	return r, nil
}

// OperationPayload converts the payload to an operation payload
func (m RawMessage) OperationPayload() (*OperationPayload, error) {
	payload, ok := m["payload"]
	if !ok || payload == nil {
		return nil, fmt.Errorf("message is missing the 'payload' property")
	}

	r := &OperationPayload{}
	if err := ReMarshal(payload, r); err != nil {
		return nil, fmt.Errorf("failed to parse payload")
	}

	return r, nil
}

// ReMarshal converts one type to another
func ReMarshal(in, out interface{}) error {
	b, err := jsoniter.Marshal(in)
	if err != nil {
		return err
	}

	return jsoniter.Unmarshal(b, out)
}

package gqlclient

import (
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Request is a single graphql request
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// GetQuery gets the query
func (r *Request) GetQuery() string {
	return r.Query
}

// GetOperationName gets the operation name
func (r *Request) GetOperationName() string {
	return r.OperationName
}

// GetVariables gets the variables
func (r *Request) GetVariables() map[string]interface{} {
	if r.Variables == nil {
		return map[string]interface{}{}
	}
	return r.Variables
}

// converts the request to an io.Reader
func (r *Request) toReader() (io.Reader, error) {
	j, err := jsoniter.Marshal(r)
	if err != nil {
		return nil, err
	}

	return bytes.NewBuffer(j), nil
}

// Package executor defines the boundary between the WebSocket
// transport layer and the GraphQL engine evaluating operations.
package executor

import (
	"context"

	"github.com/graphql-go/graphql"
)

// Params carries one operation's inputs to the engine
type Params struct {
	Query         string
	OperationName string
	Variables     map[string]interface{}
	RootValue     map[string]interface{}
	Context       context.Context
}

// Executor evaluates GraphQL operations. Execute runs a single-result
// operation to completion. Subscribe starts a streaming operation and
// returns its result stream; the stream must honor cancellation of the
// params context.
type Executor interface {
	Execute(p Params) (*graphql.Result, error)
	Subscribe(p Params) (ResultStream, error)
}

// ResultStream is a lazy, possibly infinite sequence of results. The
// channel closes on exhaustion, failure, or cancellation; Err reports
// the failure that ended the stream early, if any.
type ResultStream interface {
	Results() <-chan *graphql.Result
	Err() error
	Close() error
}

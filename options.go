package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bhoriuchi/graphql-ws-server/executor"
	"github.com/bhoriuchi/graphql-ws-server/logger"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol/graphqltransportws"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol/graphqlws"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
)

// RootValueFunc resolves the root value for a single operation
type RootValueFunc func(ctx context.Context, r *http.Request, op *ast.OperationDefinition) map[string]interface{}

// ContextValueFunc builds the context an operation executes with,
// replacing the default metadata context
type ContextValueFunc func(c protocol.Context, msg protocol.OperationMessage) (context.Context, gqlerrors.FormattedErrors)

// Roots holds static root values keyed by operation type
type Roots struct {
	Query        map[string]interface{}
	Mutation     map[string]interface{}
	Subscription map[string]interface{}
}

// rootValueFunc adapts static roots to a RootValueFunc
func (r *Roots) rootValueFunc() RootValueFunc {
	return func(ctx context.Context, req *http.Request, op *ast.OperationDefinition) map[string]interface{} {
		switch op.Operation {
		case ast.OperationTypeQuery:
			return r.Query
		case ast.OperationTypeMutation:
			return r.Mutation
		case ast.OperationTypeSubscription:
			return r.Subscription
		}

		return nil
	}
}

// GraphQLWSOptions configures the deprecated graphql-ws subprotocol
type GraphQLWSOptions struct {
	KeepAlive           time.Duration
	OnConnect           func(c protocol.Context, payload interface{}) (interface{}, error)
	OnDisconnect        func(c protocol.Context)
	OnOperation         func(c protocol.Context, msg graphqlws.StartMessage, params executor.Params) (*executor.Params, error)
	OnOperationComplete func(c protocol.Context, id string)
}

// GraphQLTransportWSOptions configures the graphql-transport-ws
// subprotocol
type GraphQLTransportWSOptions struct {
	ConnectionInitWaitTimeout time.Duration
	PingInterval              time.Duration
	OnConnect                 func(c protocol.Context, params map[string]interface{}) (interface{}, error)
	OnPing                    func(c protocol.Context, payload map[string]interface{}) map[string]interface{}
	OnPong                    func(c protocol.Context, payload map[string]interface{})
	OnDisconnect              func(c protocol.Context, code graphqltransportws.CloseCode, reason string)
	OnClose                   func(c protocol.Context, code graphqltransportws.CloseCode, reason string)
	OnSubscribe               func(c protocol.Context, msg graphqltransportws.SubscribeMessage) (*executor.Params, gqlerrors.FormattedErrors)
	OnOperation               func(c protocol.Context, msg graphqltransportws.SubscribeMessage, params executor.Params) (*executor.Params, error)
	OnNext                    func(c protocol.Context, msg graphqltransportws.NextMessage, result *graphql.Result) (*protocol.ExecutionResult, error)
	OnError                   func(c protocol.Context, msg graphqltransportws.ErrorMessage, errs gqlerrors.FormattedErrors) (gqlerrors.FormattedErrors, error)
	OnComplete                func(c protocol.Context, msg graphqltransportws.CompleteMessage) error
}

type Option func(opts *serverOptions)

type serverOptions struct {
	LogFunc            logger.LogFunc
	ReadLimit          int64
	RootValueFunc      RootValueFunc
	ContextValueFunc   ContextValueFunc
	DisableGraphQLWS   bool
	DisableTransportWS bool
	GraphQLWS          GraphQLWSOptions
	GraphQLTransportWS GraphQLTransportWSOptions
}

// WithLogFunc sets the log function
func WithLogFunc(l logger.LogFunc) Option {
	return func(opts *serverOptions) {
		opts.LogFunc = l
	}
}

// WithReadLimit caps the size of inbound frames in bytes
func WithReadLimit(limit int64) Option {
	return func(opts *serverOptions) {
		opts.ReadLimit = limit
	}
}

// WithRootValueFunc sets the root value resolver for both subprotocols
func WithRootValueFunc(f RootValueFunc) Option {
	return func(opts *serverOptions) {
		opts.RootValueFunc = f
	}
}

// WithRoots sets static root values for both subprotocols
func WithRoots(r *Roots) Option {
	return func(opts *serverOptions) {
		opts.RootValueFunc = r.rootValueFunc()
	}
}

// WithContextValueFunc sets the operation context builder for both
// subprotocols
func WithContextValueFunc(f ContextValueFunc) Option {
	return func(opts *serverOptions) {
		opts.ContextValueFunc = f
	}
}

// WithConnectionInitWaitTimeout sets how long a graphql-transport-ws
// connection may sit without a connection_init before being closed.
// A negative value disables the timeout.
func WithConnectionInitWaitTimeout(timeout time.Duration) Option {
	return func(opts *serverOptions) {
		opts.GraphQLTransportWS.ConnectionInitWaitTimeout = timeout
	}
}

// WithKeepAlive sets the ka interval of the deprecated graphql-ws
// subprotocol. Zero disables keep-alives.
func WithKeepAlive(interval time.Duration) Option {
	return func(opts *serverOptions) {
		opts.GraphQLWS.KeepAlive = interval
	}
}

// WithPingInterval makes the server ping graphql-transport-ws clients
// periodically once acknowledged. Zero disables server pings.
func WithPingInterval(interval time.Duration) Option {
	return func(opts *serverOptions) {
		opts.GraphQLTransportWS.PingInterval = interval
	}
}

// WithoutGraphQLWS removes the deprecated graphql-ws subprotocol from
// the supported set
func WithoutGraphQLWS() Option {
	return func(opts *serverOptions) {
		opts.DisableGraphQLWS = true
	}
}

// WithoutGraphQLTransportWS removes the graphql-transport-ws
// subprotocol from the supported set
func WithoutGraphQLTransportWS() Option {
	return func(opts *serverOptions) {
		opts.DisableTransportWS = true
	}
}

// WithGraphQLWSOptions replaces the full option set of the deprecated
// graphql-ws subprotocol
func WithGraphQLWSOptions(o GraphQLWSOptions) Option {
	return func(opts *serverOptions) {
		opts.GraphQLWS = o
	}
}

// WithGraphQLTransportWSOptions replaces the full option set of the
// graphql-transport-ws subprotocol
func WithGraphQLTransportWSOptions(o GraphQLTransportWSOptions) Option {
	return func(opts *serverOptions) {
		opts.GraphQLTransportWS = o
	}
}

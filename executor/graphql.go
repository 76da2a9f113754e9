package executor

import (
	"context"
	"sync"

	"github.com/graphql-go/graphql"
)

// GraphQLExecutor evaluates operations against a graphql-go schema
type GraphQLExecutor struct {
	schema graphql.Schema
}

func New(schema graphql.Schema) *GraphQLExecutor {
	return &GraphQLExecutor{schema: schema}
}

func (e *GraphQLExecutor) Execute(p Params) (*graphql.Result, error) {
	return graphql.Do(e.params(p)), nil
}

func (e *GraphQLExecutor) Subscribe(p Params) (ResultStream, error) {
	args := e.params(p)

	// the stream owns a child context so Close releases the engine's
	// subscription goroutine even when the caller keeps its context
	ctx, cancel := context.WithCancel(args.Context)
	args.Context = ctx

	return &graphqlStream{
		results: graphql.Subscribe(args),
		cancel:  cancel,
	}, nil
}

func (e *GraphQLExecutor) params(p Params) graphql.Params {
	ctx := p.Context
	if ctx == nil {
		ctx = context.Background()
	}

	return graphql.Params{
		Schema:         e.schema,
		RequestString:  p.Query,
		OperationName:  p.OperationName,
		VariableValues: p.Variables,
		RootObject:     p.RootValue,
		Context:        ctx,
	}
}

// graphqlStream adapts the engine's result channel. The engine folds
// field failures into per-result errors, so Err is always nil.
type graphqlStream struct {
	results   chan *graphql.Result
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *graphqlStream) Results() <-chan *graphql.Result {
	return s.results
}

func (s *graphqlStream) Err() error {
	return nil
}

func (s *graphqlStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}

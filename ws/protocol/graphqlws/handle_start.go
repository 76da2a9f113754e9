package graphqlws

import (
	"context"
	"fmt"

	"github.com/bhoriuchi/graphql-ws-server/executor"
	"github.com/bhoriuchi/graphql-ws-server/logger"
	"github.com/bhoriuchi/graphql-ws-server/metadata"
	"github.com/bhoriuchi/graphql-ws-server/utils"
	"github.com/bhoriuchi/graphql-ws-server/ws/manager"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
)

// handleStart starts an operation requested by a start message.
// Operation failures are scoped to the operation, only structural
// protocol violations close the connection.
func (c *wsConnection) handleStart(msg protocol.RawMessage) {
	id, err := msg.ID()
	if err != nil {
		c.log.Debugf("received START message")
		c.log.WithError(err).Errorf("start operation failed")
		c.sendError("", fmt.Errorf("message contains no ID"))
		return
	}

	subLog := c.log.WithField("operationId", id)
	subLog.Debugf("received START message")

	if !c.ConnectionInitReceived() {
		subLog.Errorf("attempted start operation on uninitialized connection")
		c.sendMessage(NewConnectionErrorMessage(id, "attempted start operation on uninitialized connection"))
		return
	}

	// a start reusing an active id is ignored, the first operation
	// keeps running
	if c.mgr.HasSubscription(id) {
		subLog.Warnf("ignoring START message for already active operation")
		return
	}

	payload, err := msg.OperationPayload()
	if err != nil {
		subLog.WithError(err).Errorf("failed to parse start payload")
		c.close(ProtocolError, err.Error())
		return
	}

	if err := payload.Validate(); err != nil {
		subLog.WithError(err).Errorf("start payload validation error")
		c.sendError(id, err)
		return
	}

	params := &executor.Params{
		Query:         payload.Query,
		OperationName: payload.OperationName,
		Variables:     payload.Variables,
	}

	opName := params.OperationName
	if opName == "" {
		opName = "Unnamed Operation"
	}

	// identify the operation type before execution
	document, err := utils.ParseQuery(params.Query)
	if err != nil {
		subLog.WithError(err).Errorf("failed to parse query")
		c.sendError(id, fmt.Errorf("failed to parse query: %s", err))
		return
	}

	operation, err := utils.GetOperationAST(document, params.OperationName)
	if err != nil {
		subLog.WithError(err).Errorf("failed to identify operation")
		c.sendError(id, fmt.Errorf("failed to identify operation: %s", err))
		return
	}

	// add context
	if c.config.ContextValueFunc != nil {
		ctx, errs := c.config.ContextValueFunc(c, protocol.OperationMessage{
			ID:      id,
			Type:    protocol.MsgStart,
			Payload: *payload,
		})
		if errs != nil {
			subLog.WithError(errs[0].OriginalError()).Errorf("failed to build operation context")
			c.sendMessage(NewErrorMessage(id, errs[0]))
			return
		}
		params.Context = ctx
	} else {
		ctx := metadata.NewWithContext(c.ctx)
		metadata.Set(ctx, metadata.ConnectionIDKey, c.id)
		metadata.Set(ctx, metadata.SubprotocolKey, Subprotocol)
		metadata.Set(ctx, metadata.OperationIDKey, id)
		if c.connectionParams != nil {
			metadata.Set(ctx, metadata.ConnectionParamsKey, c.connectionParams)
		}
		params.Context = ctx
	}

	// add root value
	if params.RootValue == nil && c.config.RootValueFunc != nil {
		params.RootValue = c.config.RootValueFunc(params.Context, c.config.Request, operation)
	}

	// onOperation hook can replace the final executor parameters
	if c.config.OnOperation != nil {
		startMsg := StartMessage{
			ID:      id,
			Type:    protocol.MsgStart,
			Payload: *payload,
		}

		maybeParams, err := c.config.OnOperation(c, startMsg, *params)
		if err != nil {
			subLog.WithError(err).Errorf("onOperation hook failed")
			c.sendError(id, err)
			return
		}

		if maybeParams != nil {
			params = maybeParams
		}
	}

	// each operation owns a cancelable context
	opCtx, cancelFunc := context.WithCancel(params.Context)
	params.Context = opCtx

	sub := &manager.Subscription{
		ConnectionID:  c.id,
		OperationID:   id,
		OperationName: opName,
		Context:       opCtx,
		CancelFunc:    cancelFunc,
	}

	if err := c.mgr.Subscribe(sub); err != nil {
		cancelFunc()
		subLog.WithError(err).Warnf("ignoring START message for already active operation")
		return
	}
	subLog.Tracef("operation count increased to: %d", c.mgr.SubscriptionCount())

	go c.runOperation(sub, *params, operation.Operation, subLog)
}

// runOperation drives a single operation to completion on its own
// goroutine so that slow resolvers never block the read loop
func (c *wsConnection) runOperation(
	sub *manager.Subscription,
	params executor.Params,
	operationType string,
	subLog *logger.LogWrapper,
) {
	defer func() {
		if c.config.OnOperationComplete != nil {
			c.config.OnOperationComplete(c, sub.OperationID)
		}
	}()

	if operationType == ast.OperationTypeSubscription {
		c.runStream(sub, params, subLog)
	} else {
		c.runSingle(sub, params, subLog)
	}
}

// runSingle executes a query or mutation and emits a single data
// message followed by a complete message
func (c *wsConnection) runSingle(sub *manager.Subscription, params executor.Params, subLog *logger.LogWrapper) {
	result, err := c.config.Executor.Execute(params)
	if err != nil {
		if c.mgr.UnsubscribeOwned(sub) {
			c.sendError(sub.OperationID, err)
		}
		return
	}

	// a canceled operation ends without a terminal message, the stop
	// handler already echoed the complete
	if sub.Context.Err() != nil {
		c.mgr.UnsubscribeOwned(sub)
		return
	}

	c.sendMessage(NewDataMessage(sub.OperationID, protocol.ExecutionResult{
		Errors:     result.Errors,
		Data:       result.Data,
		Extensions: result.Extensions,
	}))

	// release the id before the terminal message so the client can
	// reuse it the moment complete arrives
	if c.mgr.UnsubscribeOwned(sub) {
		c.sendMessage(NewCompleteMessage(sub.OperationID))
		subLog.Debugf("operation %q COMPLETED", sub.OperationName)
	}
}

// runStream executes a subscription and forwards every stream result
// as a data message
func (c *wsConnection) runStream(sub *manager.Subscription, params executor.Params, subLog *logger.LogWrapper) {
	stream, err := c.config.Executor.Subscribe(params)
	if err != nil {
		if c.mgr.UnsubscribeOwned(sub) {
			c.sendError(sub.OperationID, err)
		}
		return
	}

	// the stream is released even when the operation is canceled
	// mid-iteration
	defer stream.Close()

	subLog.Tracef("operation %q SUBSCRIBED", sub.OperationName)

	for {
		select {
		case <-sub.Context.Done():
			c.mgr.UnsubscribeOwned(sub)
			subLog.Tracef("exiting operation %q", sub.OperationName)
			return

		case res, more := <-stream.Results():
			if !more {
				if serr := stream.Err(); serr != nil {
					subLog.WithError(serr).Errorf("operation stream failed")
					if c.mgr.UnsubscribeOwned(sub) {
						c.sendError(sub.OperationID, serr)
					}
					return
				}

				subLog.Tracef("operation %q has no more messages, unsubscribing", sub.OperationName)
				if c.mgr.UnsubscribeOwned(sub) {
					c.sendMessage(NewCompleteMessage(sub.OperationID))
				}
				return
			}

			// field errors on a stream item ride in the data message
			// alongside a null data value
			c.sendMessage(NewDataMessage(sub.OperationID, protocol.ExecutionResult{
				Errors:     res.Errors,
				Data:       res.Data,
				Extensions: res.Extensions,
			}))
		}
	}
}

// sendError sends an error message with a single formatted error as
// its payload
func (c *wsConnection) sendError(id string, err error) {
	c.sendMessage(NewErrorMessage(id, gqlerrors.FormatError(err)))
}

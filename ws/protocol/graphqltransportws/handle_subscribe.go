package graphqltransportws

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

// handleSubscribe starts an operation requested by a subscribe message
func (c *wsConnection) handleSubscribe(msg protocol.RawMessage) {
	var (
		params        *executor.Params
		maybeParams   *executor.Params
		formattedErrs gqlerrors.FormattedErrors
	)

	// validate the message and create a structured one
	id, err := msg.ID()
	if err != nil {
		c.log.Tracef("received SUBSCRIBE message")
		c.log.WithError(err).Errorf("subscribe operation failed")
		c.close(BadRequest, err.Error())
		return
	}

	subLog := c.log.WithField("operationId", id)
	subLog.Tracef("received SUBSCRIBE message")

	payload, err := msg.OperationPayload()
	if err != nil {
		subLog.WithError(err).Errorf("invalid subscribe message payload")
		c.close(BadRequest, err.Error())
		return
	}

	if err := payload.Validate(); err != nil {
		subLog.WithError(err).Errorf("invalid subscribe message payload")
		c.close(BadRequest, err.Error())
		return
	}

	subMsg := SubscribeMessage{
		ID:      id,
		Type:    protocol.MsgSubscribe,
		Payload: *payload,
	}

	// operations are only accepted on acknowledged connections
	if !c.Acknowledged() {
		subLog.Errorf("attempted subscribe operation on unacknowledged connection")
		c.close(Unauthorized, "Unauthorized")
		return
	}

	// reject duplicate operation ids before doing any work on the
	// operation itself
	if c.mgr.HasSubscription(id) {
		err := fmt.Errorf("subscriber for %s already exists", id)
		subLog.WithError(err).Errorf("failed subscribe operation")
		c.close(SubscriberAlreadyExists, fmt.Sprintf("Subscriber for %s already exists", id))
		return
	}

	// onSubscribe hook can veto the operation or supply the
	// executor parameters itself
	if c.config.OnSubscribe != nil {
		maybeParams, formattedErrs = c.config.OnSubscribe(c, subMsg)
	}

	if formattedErrs != nil {
		if len(formattedErrs) == 0 {
			err := fmt.Errorf("invalid return value from onSubscribe hook, expected an array of GraphQLError objects")
			subLog.WithError(err).Errorf("onSubscribe hook failed")
			c.sendError(id, utils.GQLErrors(err))
			return
		}

		subLog.WithError(formattedErrs[0].OriginalError()).Errorf("onSubscribe hook failed")
		c.sendError(id, formattedErrs)
		return
	} else if maybeParams != nil {
		params = maybeParams
	} else {
		params = &executor.Params{
			Query:         payload.Query,
			OperationName: payload.OperationName,
			Variables:     payload.Variables,
		}
	}

	opName := params.OperationName
	if opName == "" {
		opName = "Unnamed Operation"
	}

	// identify the operation type before execution
	document, err := utils.ParseQuery(params.Query)
	if err != nil {
		subLog.WithError(err).Errorf("failed to parse query")
		c.close(BadRequest, err.Error())
		return
	}

	operation, err := utils.GetOperationAST(document, params.OperationName)
	if err != nil {
		subLog.WithError(err).Errorf("failed to identify operation")
		c.close(BadRequest, "Can't get GraphQL operation type")
		return
	}

	// add context
	if params.Context == nil {
		if c.config.ContextValueFunc != nil {
			ctx, errs := c.config.ContextValueFunc(c, protocol.OperationMessage{
				ID:      subMsg.ID,
				Type:    subMsg.Type,
				Payload: subMsg.Payload,
			})
			if errs != nil {
				subLog.WithError(errs[0].OriginalError()).Errorf("failed to build operation context")
				c.sendError(id, errs)
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
	}

	// add root value
	if params.RootValue == nil && c.config.RootValueFunc != nil {
		params.RootValue = c.config.RootValueFunc(params.Context, c.config.Request, operation)
	}

	// onOperation hook can replace the final executor parameters
	if c.config.OnOperation != nil {
		maybeParams, err := c.config.OnOperation(c, subMsg, *params)
		if err != nil {
			subLog.WithError(err).Errorf("onOperation hook failed")
			c.sendError(id, utils.GQLErrors(err))
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

	// the read loop is the only writer of the registry, but guard
	// against a racing reuse of the id anyway
	if err := c.mgr.Subscribe(sub); err != nil {
		cancelFunc()
		subLog.WithError(err).Errorf("failed subscribe operation")
		c.close(SubscriberAlreadyExists, fmt.Sprintf("Subscriber for %s already exists", id))
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
	if operationType == ast.OperationTypeSubscription {
		c.runStream(sub, params, subLog)
	} else {
		c.runSingle(sub, params, subLog)
	}
}

// runSingle executes a query or mutation and emits a single next
// message followed by a complete message
func (c *wsConnection) runSingle(sub *manager.Subscription, params executor.Params, subLog *logger.LogWrapper) {
	result, err := c.config.Executor.Execute(params)
	if err != nil {
		if c.mgr.UnsubscribeOwned(sub) {
			if err := c.sendError(sub.OperationID, utils.GQLErrors(err)); err != nil {
				subLog.WithError(err).Errorf("failed to send error message")
			}
		}
		return
	}

	// a canceled operation ends without a terminal message
	if sub.Context.Err() != nil {
		c.mgr.UnsubscribeOwned(sub)
		return
	}

	if err := c.sendNext(NextMessage{
		ID:   sub.OperationID,
		Type: protocol.MsgNext,
		Payload: protocol.ExecutionResult{
			Errors:     result.Errors,
			Data:       result.Data,
			Extensions: result.Extensions,
		},
	}, result); err != nil {
		subLog.WithError(err).Errorf("failed to send next message")
		c.mgr.UnsubscribeOwned(sub)
		c.close(InternalServerError, err.Error())
		return
	}

	// release the id before the terminal message so the client can
	// reuse it the moment complete arrives
	if c.mgr.UnsubscribeOwned(sub) {
		if err := c.sendComplete(sub.OperationID); err != nil {
			subLog.WithError(err).Errorf("failed to send complete message")
		}
		subLog.Debugf("operation %q COMPLETED", sub.OperationName)
	}
}

// runStream executes a subscription and forwards every stream result
// as a next message
func (c *wsConnection) runStream(sub *manager.Subscription, params executor.Params, subLog *logger.LogWrapper) {
	stream, err := c.config.Executor.Subscribe(params)
	if err != nil {
		if c.mgr.UnsubscribeOwned(sub) {
			if err := c.sendError(sub.OperationID, utils.GQLErrors(err)); err != nil {
				subLog.WithError(err).Errorf("failed to send error message")
			}
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
			// canceled operations end silently, a complete or stop has
			// already been acknowledged by whoever canceled
			c.mgr.UnsubscribeOwned(sub)
			subLog.Tracef("exiting operation %q", sub.OperationName)
			return

		case res, more := <-stream.Results():
			if !more {
				if serr := stream.Err(); serr != nil {
					subLog.WithError(serr).Errorf("operation stream failed")
					if c.mgr.UnsubscribeOwned(sub) {
						if err := c.sendError(sub.OperationID, utils.GQLErrors(serr)); err != nil {
							subLog.WithError(err).Errorf("failed to send error message")
						}
					}
					return
				}

				subLog.Tracef("operation %q has no more messages, unsubscribing", sub.OperationName)
				if c.mgr.UnsubscribeOwned(sub) {
					if err := c.sendComplete(sub.OperationID); err != nil {
						subLog.WithError(err).Errorf("failed to send complete message")
					}
				}
				return
			}

			// field errors on a stream item ride in the next message
			// alongside a null data value
			if err := c.sendNext(NextMessage{
				ID:   sub.OperationID,
				Type: protocol.MsgNext,
				Payload: protocol.ExecutionResult{
					Errors:     res.Errors,
					Data:       res.Data,
					Extensions: res.Extensions,
				},
			}, res); err != nil {
				subLog.WithError(err).Errorf("failed to send next message")
				c.mgr.UnsubscribeOwned(sub)
				c.close(InternalServerError, err.Error())
				return
			}
		}
	}
}

package gqlclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bhoriuchi/graphql-ws-server/logger"
	"github.com/bhoriuchi/graphql-ws-server/utils/backoff"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol/graphqltransportws"
	ws "github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/graphql-go/graphql/gqlerrors"
	jsoniter "github.com/json-iterator/go"
)

const (
	defaultAckTimeout = 10 * time.Second
	writeTimeout      = 10 * time.Second
)

// OperationError carries the payload of an error message received for
// an operation
type OperationError struct {
	Errors gqlerrors.FormattedErrors
}

func (e OperationError) Error() string {
	if len(e.Errors) == 0 {
		return "operation failed"
	}
	return e.Errors[0].Message
}

// SubscriptionOptions configures a websocket client
type SubscriptionOptions struct {
	URL              string
	ConnectionParams map[string]interface{}
	AckTimeout       time.Duration
	HTTPClient       *http.Client
	HTTPHeader       http.Header
	LogFunc          logger.LogFunc
	Reconnect        bool
	Backoff          *backoff.Options
}

// SubscriptionClient speaks the graphql-transport-ws subprotocol. One
// client multiplexes any number of operations over one connection.
type SubscriptionClient struct {
	url     string
	opts    *SubscriptionOptions
	log     *logger.LogWrapper
	boff    *backoff.Backoff
	writeMx sync.Mutex
	mx      sync.Mutex
	conn    *ws.Conn
	subs    map[string]*RemoteOperation
	closed  bool
}

// RemoteOperation is one operation running on the server on behalf of
// this client
type RemoteOperation struct {
	id      string
	client  *SubscriptionClient
	results chan protocol.ExecutionResult
	done    chan struct{}
	once    sync.Once
	err     error
}

// ID returns the operation id
func (op *RemoteOperation) ID() string {
	return op.id
}

// Results returns the stream of next payloads. The channel is closed
// once the server ends the operation or the connection drops. After
// Unsubscribe it stays open but receives nothing more, watch Done
// instead.
func (op *RemoteOperation) Results() <-chan protocol.ExecutionResult {
	return op.results
}

// Done is closed once the operation has ended for any reason
func (op *RemoteOperation) Done() <-chan struct{} {
	return op.done
}

// Err reports why the operation ended. It is valid after Done is
// closed and nil for a normal complete.
func (op *RemoteOperation) Err() error {
	return op.err
}

// Unsubscribe ends the operation client side and tells the server to
// stop it
func (op *RemoteOperation) Unsubscribe() error {
	op.client.remove(op.id)
	op.finish(nil)

	return op.client.write(protocol.OperationMessage{
		ID:   op.id,
		Type: protocol.MsgComplete,
	})
}

// finish records the terminal state exactly once
func (op *RemoteOperation) finish(err error) {
	op.once.Do(func() {
		op.err = err
		close(op.done)
	})
}

// NewSubscriptionClient creates a new websocket client
func NewSubscriptionClient(opts *SubscriptionOptions) (*SubscriptionClient, error) {
	if opts == nil || opts.URL == "" {
		return nil, fmt.Errorf("no url provided")
	}

	if opts.AckTimeout == 0 {
		opts.AckTimeout = defaultAckTimeout
	}

	return &SubscriptionClient{
		url:  opts.URL,
		opts: opts,
		log:  logger.NewLogWrapper(opts.LogFunc, nil),
		boff: backoff.NewBackoff(opts.Backoff),
		subs: map[string]*RemoteOperation{},
	}, nil
}

// Connect dials the server, performs the connection_init handshake
// and starts the read pump
func (c *SubscriptionClient) Connect(ctx context.Context) error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.conn != nil {
		c.mx.Unlock()
		return fmt.Errorf("client is already connected")
	}
	c.mx.Unlock()

	conn, rsp, err := ws.Dial(ctx, c.url, &ws.DialOptions{
		HTTPClient:   c.opts.HTTPClient,
		HTTPHeader:   c.opts.HTTPHeader,
		Subprotocols: []string{graphqltransportws.Subprotocol},
	})
	if rsp != nil && rsp.Body != nil {
		rsp.Body.Close()
	}
	if err != nil {
		return err
	}

	c.mx.Lock()
	c.conn = conn
	c.mx.Unlock()

	acked := make(chan struct{})
	go c.readPump(conn, acked)

	var initPayload interface{}
	if c.opts.ConnectionParams != nil {
		initPayload = c.opts.ConnectionParams
	}

	if err := c.write(protocol.OperationMessage{
		Type:    protocol.MsgConnectionInit,
		Payload: initPayload,
	}); err != nil {
		conn.Close(ws.StatusNormalClosure, "failed to initialise")
		return err
	}

	select {
	case <-acked:
		c.log.Debugf("connection acknowledged")
		return nil

	case <-time.After(c.opts.AckTimeout):
		conn.Close(ws.StatusCode(graphqltransportws.ConnectionAcknowledgementTimeout), "connection acknowledgement timeout")
		return fmt.Errorf("timed out waiting for connection_ack")

	case <-ctx.Done():
		conn.Close(ws.StatusNormalClosure, "context canceled")
		return ctx.Err()
	}
}

// Subscribe starts an operation. Queries and mutations run over the
// websocket the same way, they just complete after one result.
func (c *SubscriptionClient) Subscribe(req Request) (*RemoteOperation, error) {
	op := &RemoteOperation{
		id:      uuid.NewString(),
		client:  c,
		results: make(chan protocol.ExecutionResult, 16),
		done:    make(chan struct{}),
	}

	c.mx.Lock()
	if c.conn == nil {
		c.mx.Unlock()
		return nil, fmt.Errorf("client is not connected")
	}
	c.subs[op.id] = op
	c.mx.Unlock()

	err := c.write(protocol.OperationMessage{
		ID:   op.id,
		Type: protocol.MsgSubscribe,
		Payload: protocol.OperationPayload{
			Query:         req.Query,
			OperationName: req.OperationName,
			Variables:     req.Variables,
		},
	})
	if err != nil {
		c.remove(op.id)
		op.finish(err)
		return nil, err
	}

	return op, nil
}

// Ping sends a ping message. The server's pong rides the read pump.
func (c *SubscriptionClient) Ping(payload map[string]interface{}) error {
	var p interface{}
	if payload != nil {
		p = payload
	}

	return c.write(protocol.OperationMessage{
		Type:    protocol.MsgPing,
		Payload: p,
	})
}

// Close ends every operation and closes the connection
func (c *SubscriptionClient) Close() error {
	c.mx.Lock()
	if c.closed {
		c.mx.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mx.Unlock()

	if conn == nil {
		return nil
	}

	return conn.Close(ws.StatusNormalClosure, "client closing")
}

// write serializes one frame onto the connection
func (c *SubscriptionClient) write(msg protocol.OperationMessage) error {
	c.mx.Lock()
	conn := c.conn
	c.mx.Unlock()

	if conn == nil {
		return fmt.Errorf("client is not connected")
	}

	data, err := jsoniter.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	return conn.Write(ctx, ws.MessageText, data)
}

// lookup finds a registered operation
func (c *SubscriptionClient) lookup(id string) (*RemoteOperation, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	op, ok := c.subs[id]
	return op, ok
}

// remove drops a registered operation
func (c *SubscriptionClient) remove(id string) {
	c.mx.Lock()
	defer c.mx.Unlock()
	delete(c.subs, id)
}

// readPump routes inbound frames to their operations until the
// connection ends
func (c *SubscriptionClient) readPump(conn *ws.Conn, acked chan struct{}) {
	ackSeen := false

	fail := func(err error) {
		conn.Close(ws.StatusCode(graphqltransportws.BadResponse), "invalid message received")
		c.teardown(conn, err)
	}

	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.teardown(conn, err)
			return
		}

		msg, err := protocol.UnmarshalRaw(data)
		if err != nil {
			c.log.WithError(err).Errorf("received invalid message")
			fail(err)
			return
		}

		msgType, err := msg.Type()
		if err != nil {
			c.log.WithError(err).Errorf("received message without a type")
			fail(err)
			return
		}

		switch msgType {

		case protocol.MsgConnectionAck:
			if !ackSeen {
				ackSeen = true
				close(acked)
			}

		case protocol.MsgPing:
			var payload interface{}
			if msg.HasPayload() {
				payload = msg.Payload()
			}
			if err := c.write(protocol.OperationMessage{
				Type:    protocol.MsgPong,
				Payload: payload,
			}); err != nil {
				c.log.WithError(err).Warnf("failed to reply to ping")
			}

		case protocol.MsgPong:
			// informational only

		case protocol.MsgNext:
			id, err := msg.ID()
			if err != nil {
				fail(err)
				return
			}

			op, ok := c.lookup(id)
			if !ok {
				continue
			}

			res := protocol.ExecutionResult{}
			if err := protocol.ReMarshal(msg.Payload(), &res); err != nil {
				fail(err)
				return
			}

			select {
			case <-op.done:
			case op.results <- res:
			}

		case protocol.MsgError:
			id, err := msg.ID()
			if err != nil {
				fail(err)
				return
			}

			if op, ok := c.lookup(id); ok {
				errs := gqlerrors.FormattedErrors{}
				if err := protocol.ReMarshal(msg.Payload(), &errs); err != nil {
					fail(err)
					return
				}
				c.remove(id)
				op.finish(OperationError{Errors: errs})
				close(op.results)
			}

		case protocol.MsgComplete:
			id, err := msg.ID()
			if err != nil {
				fail(err)
				return
			}

			if op, ok := c.lookup(id); ok {
				c.remove(id)
				op.finish(nil)
				close(op.results)
			}

		default:
			c.log.WithField("type", msgType).Warnf("ignoring unexpected message")
		}
	}
}

// teardown ends the session bound to conn, failing every registered
// operation, and schedules a reconnect when configured
func (c *SubscriptionClient) teardown(conn *ws.Conn, err error) {
	c.mx.Lock()
	if c.conn != conn {
		c.mx.Unlock()
		return
	}

	c.conn = nil
	subs := c.subs
	c.subs = map[string]*RemoteOperation{}
	reconnect := c.opts.Reconnect && !c.closed
	c.mx.Unlock()

	// only the read pump closes results channels, an op removed by
	// Unsubscribe is never in this snapshot
	for _, op := range subs {
		op.finish(err)
		close(op.results)
	}

	if reconnect {
		c.log.WithError(err).Warnf("connection lost")
		go c.redial()
	}
}

// redial re-establishes the connection with exponential backoff.
// Operations running when the connection dropped are not resumed.
func (c *SubscriptionClient) redial() {
	for {
		c.mx.Lock()
		closed := c.closed
		c.mx.Unlock()

		if closed {
			return
		}

		wait := c.boff.Duration()
		c.log.WithField("wait", wait.String()).Debugf("reconnecting after backoff")
		time.Sleep(wait)

		if err := c.Connect(context.Background()); err != nil {
			c.log.WithError(err).Warnf("reconnect attempt failed")
			continue
		}

		c.boff.Reset()
		return
	}
}

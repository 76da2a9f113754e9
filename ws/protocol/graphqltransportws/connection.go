package graphqltransportws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bhoriuchi/graphql-ws-server/executor"
	"github.com/bhoriuchi/graphql-ws-server/logger"
	"github.com/bhoriuchi/graphql-ws-server/utils/interval"
	"github.com/bhoriuchi/graphql-ws-server/ws/manager"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	jsoniter "github.com/json-iterator/go"
)

// Config defines the configuration parameters of a graphql-transport-ws
// connection
type Config struct {
	WS                        *websocket.Conn
	Executor                  executor.Executor
	Logger                    *logger.LogWrapper
	Request                   *http.Request
	ConnectionInitWaitTimeout time.Duration
	PingInterval              time.Duration
	ReadLimit                 int64
	RootValueFunc             func(ctx context.Context, r *http.Request, op *ast.OperationDefinition) map[string]interface{}
	ContextValueFunc          func(c protocol.Context, msg protocol.OperationMessage) (context.Context, gqlerrors.FormattedErrors)
	OnConnect                 func(c protocol.Context, params map[string]interface{}) (interface{}, error)
	OnPing                    func(c protocol.Context, payload map[string]interface{}) map[string]interface{}
	OnPong                    func(c protocol.Context, payload map[string]interface{})
	OnDisconnect              func(c protocol.Context, code CloseCode, reason string)
	OnClose                   func(c protocol.Context, code CloseCode, reason string)
	OnSubscribe               func(c protocol.Context, msg SubscribeMessage) (*executor.Params, gqlerrors.FormattedErrors)
	OnOperation               func(c protocol.Context, msg SubscribeMessage, params executor.Params) (*executor.Params, error)
	OnNext                    func(c protocol.Context, msg NextMessage, result *graphql.Result) (*protocol.ExecutionResult, error)
	OnError                   func(c protocol.Context, msg ErrorMessage, errs gqlerrors.FormattedErrors) (gqlerrors.FormattedErrors, error)
	OnComplete                func(c protocol.Context, msg CompleteMessage) error
}

// wsConnection defines a connection context
type wsConnection struct {
	id                     string
	ctx                    context.Context
	ws                     *websocket.Conn
	config                 Config
	log                    *logger.LogWrapper
	outgoing               chan protocol.OperationMessage
	done                   chan struct{}
	mgr                    *manager.Manager
	initTimer              *time.Timer
	pinger                 *interval.Interval
	closed                 bool
	timedOut               bool
	connectionInitReceived bool
	acknowledged           bool
	connectionParams       map[string]interface{}
	initMx                 sync.RWMutex
	ackMx                  sync.RWMutex
	closeMx                sync.RWMutex
}

// NewConnection establishes a graphql-transport-ws connection. It
// implements the subprotocol by managing the connection's internal
// state and handling the client-server communication.
func NewConnection(ctx context.Context, config Config) (*wsConnection, error) {
	if config.Logger == nil {
		config.Logger = logger.NewNoopLogger()
	}

	id := uuid.NewString()
	l := config.Logger.
		WithField("connectionId", id).
		WithField("subprotocol", Subprotocol)

	if ctx == nil {
		ctx = context.Background()
	}

	c := &wsConnection{
		id:       id,
		ctx:      ctx,
		ws:       config.WS,
		config:   config,
		log:      l,
		outgoing: make(chan protocol.OperationMessage),
		done:     make(chan struct{}),
		mgr:      manager.NewManager(),
	}

	// validate the subprotocol; the loops that normally tear the
	// socket down never start on these paths
	if c.ws.Subprotocol() != Subprotocol {
		err := fmt.Errorf("subprotocol not acceptable")
		c.log.WithError(err).Errorf("failed to create connection")
		c.close(SubprotocolNotAcceptable, err.Error())
		c.ws.Close()
		return nil, err
	}

	if c.config.Executor == nil {
		err := fmt.Errorf("no executor provided")
		c.log.WithError(err).Errorf("failed to create connection")
		c.close(InternalServerError, err.Error())
		c.ws.Close()
		return nil, err
	}

	if config.ReadLimit > 0 {
		c.ws.SetReadLimit(config.ReadLimit)
	}

	c.log.Debugf("server accepted graphql subprotocol")

	// the init timer is armed before the read loop starts so that an
	// immediate connection_init never races the timer creation
	timeout := config.ConnectionInitWaitTimeout
	if timeout == 0 {
		timeout = DefaultConnectionInitWaitTimeout
	}
	if timeout > 0 {
		c.initTimer = time.AfterFunc(timeout, c.initTimeout)
	}

	// start the read and write loops
	go c.writeLoop()
	go c.readLoop()

	return c, nil
}

// initTimeout fires when no connection_init arrived inside the wait
// window. The decision is made under initMx so that a concurrently
// arriving init either fully wins or fully loses.
func (c *wsConnection) initTimeout() {
	c.initMx.Lock()
	if c.connectionInitReceived {
		c.initMx.Unlock()
		return
	}
	c.timedOut = true
	c.initMx.Unlock()

	c.log.WithField("code", ConnectionInitialisationTimeout).Errorf("connection initialisation timeout")
	c.close(ConnectionInitialisationTimeout, "Connection initialisation timeout")
}

// ConnectionID returns the connection id
func (c *wsConnection) ConnectionID() string {
	return c.id
}

// Subprotocol returns the negotiated subprotocol name
func (c *wsConnection) Subprotocol() string {
	return Subprotocol
}

// Context returns the original connection request context
func (c *wsConnection) Context() context.Context {
	return c.ctx
}

// WS returns the websocket
func (c *wsConnection) WS() *websocket.Conn {
	return c.ws
}

func (c *wsConnection) C() chan protocol.OperationMessage {
	return c.outgoing
}

// Done is closed when the connection has been torn down
func (c *wsConnection) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down with a normal closure
func (c *wsConnection) Close(msg string) {
	c.close(NormalClosure, msg)
}

// ConnectionInitReceived
func (c *wsConnection) ConnectionInitReceived() bool {
	c.initMx.RLock()
	defer c.initMx.RUnlock()
	return c.connectionInitReceived
}

// Acknowledged
func (c *wsConnection) Acknowledged() bool {
	c.ackMx.RLock()
	defer c.ackMx.RUnlock()
	return c.acknowledged
}

// ConnectionParams
func (c *wsConnection) ConnectionParams() map[string]interface{} {
	return c.connectionParams
}

// OperationCount returns the number of active operations
func (c *wsConnection) OperationCount() int {
	return c.mgr.SubscriptionCount()
}

// OperationIDs returns a snapshot of the active operation ids
func (c *wsConnection) OperationIDs() []string {
	return c.mgr.OperationIDs()
}

// Ping sends a server-initiated ping. It rides the outgoing channel so
// it never interleaves bytes with an in-flight frame.
func (c *wsConnection) Ping(payload map[string]interface{}) {
	// a typed nil map would marshal as "payload":null
	var p interface{}
	if payload != nil {
		p = payload
	}
	c.sendMessage(NewPingMessage(p))
}

func (c *wsConnection) writeLoop() {
	// Close the WebSocket connection when leaving the write loop;
	// this ensures the read loop is also terminated and the connection
	// closed cleanly
	defer c.ws.Close()

	for {
		select {
		case <-c.done:
			// flush whatever is already queued before exiting
			for {
				select {
				case msg := <-c.outgoing:
					if err := c.write(msg); err != nil {
						return
					}
				default:
					return
				}
			}

		case msg := <-c.outgoing:
			if err := c.write(msg); err != nil {
				return
			}
		}
	}
}

// write marshals and writes a single frame to the socket
func (c *wsConnection) write(msg protocol.OperationMessage) error {
	data, err := jsoniter.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Errorf("failed to marshal outgoing message")
		return err
	}

	c.ws.SetWriteDeadline(time.Now().Add(WriteTimeout))

	// Send the message to the client; if this times out, the WebSocket
	// connection will be corrupt, hence we need to close the write loop
	// and the connection immediately
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.WithError(err).Warnf("sending message failed")
		return err
	}

	return nil
}

func (c *wsConnection) readLoop() {
	// Close the WebSocket connection when leaving the read loop
	defer c.ws.Close()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			// look for a normal closure and exit
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isClosed() {
				c.close(NormalClosure, "client requested normal closure")
			} else {
				c.log.WithError(err).Errorf("force closing connection")
				c.close(BadRequest, err.Error())
			}
			break
		}

		// only text frames carry protocol messages
		if msgType != websocket.TextMessage {
			c.close(BadRequest, "binary frames are not supported")
			break
		}

		msg, err := protocol.UnmarshalRaw(data)
		if err != nil {
			c.log.WithError(err).Errorf("failed to decode message")
			c.close(BadRequest, err.Error())
			break
		}

		msgTypeField, err := msg.Type()
		if err != nil {
			c.log.WithError(err).Errorf("failed to read message type")
			c.close(BadRequest, err.Error())
			break
		}

		switch msgTypeField {

		case protocol.MsgConnectionInit:
			c.handleConnectionInit(msg)

		case protocol.MsgPing:
			c.handlePing(msg)

		case protocol.MsgPong:
			c.handlePong(msg)

		case protocol.MsgSubscribe:
			c.handleSubscribe(msg)

		case protocol.MsgComplete:
			c.handleComplete(msg)

		default:
			err := fmt.Errorf("unexpected message of type %q received", msgTypeField)
			c.log.Errorf("%d: %s", BadRequest, err)
			c.close(BadRequest, err.Error())
		}

		if c.isClosed() {
			break
		}
	}

	c.log.Tracef("exiting read loop")
}

// sendMessage queues a message for the write loop unless the
// connection is already torn down
func (c *wsConnection) sendMessage(msg protocol.OperationMessage) {
	select {
	case <-c.done:
	case c.outgoing <- msg:
	}
}

// sendError sends an error message for an operation
func (c *wsConnection) sendError(id string, errs gqlerrors.FormattedErrors) error {
	if c.config.OnError != nil {
		maybeErrors, err := c.config.OnError(c, ErrorMessage{
			ID:      id,
			Type:    protocol.MsgError,
			Payload: errs,
		}, errs)

		if err != nil {
			return err
		}

		if maybeErrors != nil {
			errs = maybeErrors
		}
	}

	c.sendMessage(NewErrorMessage(id, errs))
	return nil
}

// sendNext sends a next message
func (c *wsConnection) sendNext(msg NextMessage, result *graphql.Result) error {
	if c.config.OnNext != nil {
		maybeResult, err := c.config.OnNext(c, msg, result)
		if err != nil {
			return err
		}

		if maybeResult != nil {
			msg.Payload = *maybeResult
		}
	}

	c.sendMessage(NewNextMessage(msg.ID, msg.Payload))
	return nil
}

// sendComplete sends a complete message
func (c *wsConnection) sendComplete(id string) error {
	msg := CompleteMessage{
		ID:   id,
		Type: protocol.MsgComplete,
	}

	if c.config.OnComplete != nil {
		if err := c.config.OnComplete(c, msg); err != nil {
			return err
		}
	}

	c.sendMessage(NewCompleteMessage(id))
	return nil
}

// close tears the connection down once. Subsequent calls are no-ops.
func (c *wsConnection) close(code CloseCode, msg string) {
	c.closeMx.Lock()
	if c.closed {
		c.closeMx.Unlock()
		return
	}

	c.closed = true
	initTimer := c.initTimer
	pinger := c.pinger
	c.closeMx.Unlock()

	if initTimer != nil {
		initTimer.Stop()
	}
	if pinger != nil {
		pinger.Clear()
	}

	// cancel all in-flight operations; their goroutines finish
	// asynchronously
	c.mgr.UnsubscribeAll()

	msg = protocol.TruncateCloseReason(msg)

	// write the close frame before releasing the loops; the write
	// loop tears the socket down as soon as done closes and the frame
	// must be on the wire by then. WriteControl is safe to call
	// concurrently with the write loop.
	closeMsg := websocket.FormatCloseMessage(int(code), msg)
	deadline := time.Now().Add(CloseDeadlineDuration)

	closedWS := true
	if err := c.ws.WriteControl(websocket.CloseMessage, closeMsg, deadline); err != nil {
		if err != websocket.ErrCloseSent {
			c.log.WithError(err).Errorf("failed to write close control message to websocket, trying force close")
			if err := c.ws.Close(); err != nil {
				c.log.WithError(err).Errorf("failed to close websocket")
				closedWS = false
			}
		}
	}

	close(c.done)

	if closedWS {
		c.log.WithField("code", code).Infof("CLOSED connection with %q", msg)
	}

	// onDisconnect hook
	if c.Acknowledged() && c.config.OnDisconnect != nil {
		c.config.OnDisconnect(c, code, msg)
	}

	// onClose hook
	if c.config.OnClose != nil {
		c.config.OnClose(c, code, msg)
	}
}

// isClosed returns true if the connection is closed
func (c *wsConnection) isClosed() bool {
	c.closeMx.RLock()
	defer c.closeMx.RUnlock()
	return c.closed
}

// startPinger begins the periodic server-initiated ping loop
func (c *wsConnection) startPinger() {
	if c.config.PingInterval <= 0 {
		return
	}

	c.closeMx.Lock()
	defer c.closeMx.Unlock()

	if c.closed {
		return
	}

	c.pinger = interval.SetInterval(func(i *interval.Interval) {
		c.Ping(nil)
	}, c.config.PingInterval)
}

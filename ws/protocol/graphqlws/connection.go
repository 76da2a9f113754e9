package graphqlws

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
	"github.com/graphql-go/graphql/gqlerrors"
	"github.com/graphql-go/graphql/language/ast"
	jsoniter "github.com/json-iterator/go"
)

// Config defines the configuration parameters of a legacy graphql-ws
// connection
type Config struct {
	WS                  *websocket.Conn
	Executor            executor.Executor
	Logger              *logger.LogWrapper
	Request             *http.Request
	KeepAlive           time.Duration
	ReadLimit           int64
	RootValueFunc       func(ctx context.Context, r *http.Request, op *ast.OperationDefinition) map[string]interface{}
	ContextValueFunc    func(c protocol.Context, msg protocol.OperationMessage) (context.Context, gqlerrors.FormattedErrors)
	OnConnect           func(c protocol.Context, payload interface{}) (interface{}, error)
	OnDisconnect        func(c protocol.Context)
	OnOperation         func(c protocol.Context, msg StartMessage, params executor.Params) (*executor.Params, error)
	OnOperationComplete func(c protocol.Context, id string)
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
	ka                     *interval.Interval
	closed                 bool
	connectionInitReceived bool
	connectionParams       map[string]interface{}
	initMx                 sync.RWMutex
	closeMx                sync.RWMutex
}

// NewConnection establishes a legacy graphql-ws connection. It
// implements the deprecated subprotocol by managing the connection's
// internal state and handling the client-server communication.
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
		err := fmt.Errorf("subprotocol %q not acceptable", c.ws.Subprotocol())
		c.log.WithError(err).Errorf("failed to create connection")
		c.close(ProtocolError, err.Error())
		c.ws.Close()
		return nil, err
	}

	if c.config.Executor == nil {
		err := fmt.Errorf("no executor provided")
		c.log.WithError(err).Errorf("failed to create connection")
		c.close(UnexpectedCondition, err.Error())
		c.ws.Close()
		return nil, err
	}

	if config.ReadLimit > 0 {
		c.ws.SetReadLimit(config.ReadLimit)
	}

	c.log.Debugf("server accepted graphql subprotocol")

	// the deprecated protocol does not time the handshake out, an
	// uninitialized connection just idles
	go c.writeLoop()
	go c.readLoop()

	return c, nil
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

// Acknowledged is an alias for ConnectionInitReceived. The legacy
// protocol acks in the same turn it accepts the init.
func (c *wsConnection) Acknowledged() bool {
	return c.ConnectionInitReceived()
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
				c.close(ProtocolError, err.Error())
			}
			break
		}

		// only text frames carry protocol messages
		if msgType != websocket.TextMessage {
			c.close(ProtocolError, "binary frames are not supported")
			break
		}

		msg, err := protocol.UnmarshalRaw(data)
		if err != nil {
			c.log.WithError(err).Errorf("failed to decode message")
			c.close(ProtocolError, err.Error())
			break
		}

		msgTypeField, err := msg.Type()
		if err != nil {
			c.log.WithError(err).Errorf("failed to read message type")
			c.close(ProtocolError, err.Error())
			break
		}

		switch msgTypeField {

		case protocol.MsgConnectionInit:
			c.handleConnectionInit(msg)

		case protocol.MsgConnectionTerminate:
			c.handleConnectionTerminate(msg)

		case protocol.MsgStart:
			c.handleStart(msg)

		case protocol.MsgStop:
			c.handleStop(msg)

		default:
			err := fmt.Errorf("unexpected message of type %q received", msgTypeField)
			c.log.Errorf("%d: %s", ProtocolError, err)
			c.close(ProtocolError, err.Error())
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

// close tears the connection down once. Subsequent calls are no-ops.
func (c *wsConnection) close(code CloseCode, msg string) {
	c.closeMx.Lock()
	if c.closed {
		c.closeMx.Unlock()
		return
	}

	c.closed = true
	ka := c.ka
	c.closeMx.Unlock()

	if ka != nil {
		ka.Clear()
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
		c.config.OnDisconnect(c)
	}
}

// isClosed returns true if the connection is closed
func (c *wsConnection) isClosed() bool {
	c.closeMx.RLock()
	defer c.closeMx.RUnlock()
	return c.closed
}

// startKeepAlive emits an immediate ka frame followed by one every
// interval until the connection closes
func (c *wsConnection) startKeepAlive() {
	if c.config.KeepAlive <= 0 {
		return
	}

	c.log.Tracef("sending KEEP_ALIVE message")
	c.sendMessage(NewKeepAliveMessage())

	c.closeMx.Lock()
	defer c.closeMx.Unlock()

	if c.closed {
		return
	}

	c.ka = interval.SetInterval(func(i *interval.Interval) {
		c.log.Tracef("sending KEEP_ALIVE message")
		c.sendMessage(NewKeepAliveMessage())
	}, c.config.KeepAlive)
}

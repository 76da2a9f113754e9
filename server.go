package server

import (
	"net/http"
	"strings"
	"sync"

	"github.com/bhoriuchi/graphql-ws-server/executor"
	"github.com/bhoriuchi/graphql-ws-server/logger"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"
)

// Connection is the server's view of a single websocket connection,
// independent of which subprotocol governs it
type Connection interface {
	ConnectionID() string
	Subprotocol() string
	OperationCount() int
	OperationIDs() []string
	Done() <-chan struct{}
	Close(msg string)
}

// Server multiplexes GraphQL operations over websocket connections
// speaking either the graphql-transport-ws subprotocol or the
// deprecated graphql-ws one
type Server struct {
	exec     executor.Executor
	log      *logger.LogWrapper
	options  *serverOptions
	upgrader websocket.Upgrader
	connMx   sync.RWMutex
	conns    map[string]Connection
	shutdown bool
}

// New creates a new server around an executor
func New(exec executor.Executor, opts ...Option) *Server {
	options := &serverOptions{
		LogFunc: logger.NoopLogFunc,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Server{
		exec:    exec,
		log:     logger.NewLogWrapper(options.LogFunc, nil),
		options: options,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: map[string]Connection{},
	}
}

// NewWithSchema creates a new server around the default executor for
// a schema
func NewWithSchema(schema graphql.Schema, opts ...Option) *Server {
	return New(executor.New(schema), opts...)
}

// subprotocols returns the currently supported subprotocol names in
// server preference order. Negotiation itself follows the client's
// preference order.
func (s *Server) subprotocols() []string {
	supported := []string{}
	if !s.options.DisableTransportWS {
		supported = append(supported, protocol.GraphQLTransportWS)
	}
	if !s.options.DisableGraphQLWS {
		supported = append(supported, protocol.GraphQLWS)
	}

	return supported
}

// isWSUpgrade identifies a websocket upgrade
func (s *Server) isWSUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// ServeHTTP upgrades websocket requests and serves the connection
// until either peer ends it. Anything else is refused.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.isWSUpgrade(r) {
		http.Error(w, "server requires a websocket upgrade", http.StatusUpgradeRequired)
		return
	}

	s.WSHandler(w, r)
}

// addConnection registers a connection. It fails once the server has
// begun shutting down.
func (s *Server) addConnection(conn Connection) bool {
	s.connMx.Lock()
	defer s.connMx.Unlock()

	if s.shutdown {
		return false
	}

	s.conns[conn.ConnectionID()] = conn
	return true
}

// removeConnection drops a connection from the registry
func (s *Server) removeConnection(conn Connection) {
	s.connMx.Lock()
	defer s.connMx.Unlock()
	delete(s.conns, conn.ConnectionID())
}

// Connection looks up an active connection by its id
func (s *Server) Connection(id string) (Connection, bool) {
	s.connMx.RLock()
	defer s.connMx.RUnlock()

	conn, ok := s.conns[id]
	return conn, ok
}

// Connections returns a snapshot of the active connections
func (s *Server) Connections() []Connection {
	s.connMx.RLock()
	defer s.connMx.RUnlock()

	conns := make([]Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}

	return conns
}

// ConnectionCount returns the number of active connections
func (s *Server) ConnectionCount() int {
	s.connMx.RLock()
	defer s.connMx.RUnlock()
	return len(s.conns)
}

// Shutdown closes every active connection and refuses new ones. The
// http server owning the listener still needs to be shut down by the
// caller.
func (s *Server) Shutdown() {
	s.connMx.Lock()
	s.shutdown = true
	conns := make([]Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connMx.Unlock()

	for _, conn := range conns {
		conn.Close("server shutting down")
		<-conn.Done()
	}

	s.log.Debugf("server shut down, %d connections closed", len(conns))
}

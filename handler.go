package server

import (
	"net/http"

	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol/graphqltransportws"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol/graphqlws"
	"github.com/gorilla/websocket"
)

// WSHandler negotiates the subprotocol, upgrades the connection and
// serves it until either peer ends it
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	s.log.Debugf("upgrading connection to websocket")

	// refuse the handshake before upgrading when nothing the client
	// offered is supported
	selected, ok := protocol.Negotiate(websocket.Subprotocols(r), s.subprotocols())
	if !ok {
		s.log.Warnf("connection does not implement a supported graphql subprotocol")
		http.Error(w, "client does not implement a supported graphql subprotocol", http.StatusBadRequest)
		return
	}

	// the response header pins the subprotocol picked by the client's
	// preference order, the upgrader never negotiates its own. Set
	// canonicalizes the key so the upgrader's lookup finds it
	responseHeader := http.Header{}
	responseHeader.Set("Sec-WebSocket-Protocol", selected)

	ws, err := s.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.log.WithError(err).Warnf("failed to establish websocket connection")
		return
	}

	s.log.Debugf("client negotiated %q subprotocol", ws.Subprotocol())

	var conn Connection

	switch selected {

	case graphqltransportws.Subprotocol:
		conn, err = graphqltransportws.NewConnection(r.Context(), graphqltransportws.Config{
			WS:                        ws,
			Executor:                  s.exec,
			Logger:                    s.log,
			Request:                   r,
			ConnectionInitWaitTimeout: s.options.GraphQLTransportWS.ConnectionInitWaitTimeout,
			PingInterval:              s.options.GraphQLTransportWS.PingInterval,
			ReadLimit:                 s.options.ReadLimit,
			RootValueFunc:             s.options.RootValueFunc,
			ContextValueFunc:          s.options.ContextValueFunc,
			OnConnect:                 s.options.GraphQLTransportWS.OnConnect,
			OnPing:                    s.options.GraphQLTransportWS.OnPing,
			OnPong:                    s.options.GraphQLTransportWS.OnPong,
			OnDisconnect:              s.options.GraphQLTransportWS.OnDisconnect,
			OnClose:                   s.options.GraphQLTransportWS.OnClose,
			OnSubscribe:               s.options.GraphQLTransportWS.OnSubscribe,
			OnOperation:               s.options.GraphQLTransportWS.OnOperation,
			OnNext:                    s.options.GraphQLTransportWS.OnNext,
			OnError:                   s.options.GraphQLTransportWS.OnError,
			OnComplete:                s.options.GraphQLTransportWS.OnComplete,
		})

	case graphqlws.Subprotocol:
		conn, err = graphqlws.NewConnection(r.Context(), graphqlws.Config{
			WS:                  ws,
			Executor:            s.exec,
			Logger:              s.log,
			Request:             r,
			KeepAlive:           s.options.GraphQLWS.KeepAlive,
			ReadLimit:           s.options.ReadLimit,
			RootValueFunc:       s.options.RootValueFunc,
			ContextValueFunc:    s.options.ContextValueFunc,
			OnConnect:           s.options.GraphQLWS.OnConnect,
			OnDisconnect:        s.options.GraphQLWS.OnDisconnect,
			OnOperation:         s.options.GraphQLWS.OnOperation,
			OnOperationComplete: s.options.GraphQLWS.OnOperationComplete,
		})
	}

	// the connection has already closed the socket on its way out
	if err != nil {
		return
	}

	if !s.addConnection(conn) {
		conn.Close("server shutting down")
		return
	}
	defer s.removeConnection(conn)

	// the connection lives as long as this handler, returning early
	// would cancel the request context every operation descends from
	<-conn.Done()
}

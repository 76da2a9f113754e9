package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func newTestSchema(t *testing.T) graphql.Schema {
	t.Helper()

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name: "Query",
			Fields: graphql.Fields{
				"echo": &graphql.Field{
					Type: graphql.String,
					Args: graphql.FieldConfigArgument{
						"message": &graphql.ArgumentConfig{
							Type: graphql.NewNonNull(graphql.String),
						},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return p.Args["message"], nil
					},
				},
			},
		}),
		Subscription: graphql.NewObject(graphql.ObjectConfig{
			Name: "Subscription",
			Fields: graphql.Fields{
				"echo": &graphql.Field{
					Type: graphql.String,
					Args: graphql.FieldConfigArgument{
						"message": &graphql.ArgumentConfig{
							Type: graphql.NewNonNull(graphql.String),
						},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return p.Source, nil
					},
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						c := make(chan interface{}, 1)
						c <- p.Args["message"]
						close(c)
						return c, nil
					},
				},
				"clock": &graphql.Field{
					Type: graphql.Int,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return p.Source, nil
					},
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						c := make(chan interface{})
						go func() {
							defer close(c)
							ticker := time.NewTicker(50 * time.Millisecond)
							defer ticker.Stop()
							tick := 0
							for {
								select {
								case <-p.Context.Done():
									return
								case <-ticker.C:
									select {
									case <-p.Context.Done():
										return
									case c <- tick:
										tick++
									}
								}
							}
						}()
						return c, nil
					},
				},
			},
		}),
	})
	require.NoError(t, err)
	return schema
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()

	srv := NewWithSchema(newTestSchema(t), opts...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return srv, ts
}

// dial opens a websocket connection offering the given subprotocols in
// preference order
func dial(t *testing.T, url string, subprotocols ...string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{
		Subprotocols:     subprotocols,
		HandshakeTimeout: testTimeout,
	}

	conn, rsp, err := dialer.Dial(strings.Replace(url, "http", "ws", 1), nil)
	if rsp != nil && rsp.Body != nil {
		rsp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(testTimeout))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func expectFrame(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, want, string(data))
}

type wireMessage struct {
	ID      string               `json:"id"`
	Type    protocol.MessageType `json:"type"`
	Payload json.RawMessage      `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	msg := wireMessage{}
	require.NoError(t, jsoniter.Unmarshal(data, &msg))
	return msg
}

func expectClose(t *testing.T, conn *websocket.Conn, code int, reason string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "expected a close frame, got %s", string(data))

	closeErr := &websocket.CloseError{}
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, code, closeErr.Code)
	assert.Equal(t, reason, closeErr.Text)
}

func TestNegotiationPrefersClientOrder(t *testing.T) {
	_, ts := newTestServer(t)

	// the deprecated protocol wins when the client lists it first
	legacy := dial(t, ts.URL, protocol.GraphQLWS, protocol.GraphQLTransportWS)
	assert.Equal(t, protocol.GraphQLWS, legacy.Subprotocol())

	send(t, legacy, `{"type":"connection_init"}`)
	expectFrame(t, legacy, `{"type":"connection_ack"}`)

	// connection_terminate only exists in the deprecated protocol
	send(t, legacy, `{"type":"connection_terminate"}`)
	expectClose(t, legacy, websocket.CloseNormalClosure, "client requested normal closure: terminate request")

	modern := dial(t, ts.URL, protocol.GraphQLTransportWS, protocol.GraphQLWS)
	assert.Equal(t, protocol.GraphQLTransportWS, modern.Subprotocol())

	send(t, modern, `{"type":"connection_init"}`)
	expectFrame(t, modern, `{"type":"connection_ack"}`)

	// ping only exists in graphql-transport-ws
	send(t, modern, `{"type":"ping"}`)
	expectFrame(t, modern, `{"type":"pong"}`)
}

func TestUpgradeResponsePinsSubprotocol(t *testing.T) {
	_, ts := newTestServer(t)

	dialer := websocket.Dialer{
		Subprotocols:     []string{protocol.GraphQLTransportWS},
		HandshakeTimeout: testTimeout,
	}
	conn, rsp, err := dialer.Dial(strings.Replace(ts.URL, "http", "ws", 1), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NotNil(t, rsp)
	rsp.Body.Close()

	// the handshake response carries the pinned subprotocol under the
	// canonical header key
	assert.Equal(t, protocol.GraphQLTransportWS, rsp.Header.Get("Sec-WebSocket-Protocol"))

	// the server-side socket must have picked the subprotocol up too,
	// otherwise the connection is refused before the ack
	send(t, conn, `{"type":"connection_init"}`)
	expectFrame(t, conn, `{"type":"connection_ack"}`)
}

func TestNegotiationNoCommonSubprotocol(t *testing.T) {
	_, ts := newTestServer(t)

	dialer := websocket.Dialer{
		Subprotocols:     []string{"soap"},
		HandshakeTimeout: testTimeout,
	}

	conn, rsp, err := dialer.Dial(strings.Replace(ts.URL, "http", "ws", 1), nil)
	require.Nil(t, conn)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, rsp)
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
}

func TestNegotiationNoOffer(t *testing.T) {
	_, ts := newTestServer(t)

	dialer := websocket.Dialer{HandshakeTimeout: testTimeout}

	conn, rsp, err := dialer.Dial(strings.Replace(ts.URL, "http", "ws", 1), nil)
	require.Nil(t, conn)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, rsp)
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
}

func TestNonUpgradeRequestRefused(t *testing.T) {
	_, ts := newTestServer(t)

	rsp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, rsp.StatusCode)
}

func TestWithoutGraphQLWS(t *testing.T) {
	_, ts := newTestServer(t, WithoutGraphQLWS())

	// the client still prefers the deprecated protocol but the server
	// no longer supports it
	conn := dial(t, ts.URL, protocol.GraphQLWS, protocol.GraphQLTransportWS)
	assert.Equal(t, protocol.GraphQLTransportWS, conn.Subprotocol())

	dialer := websocket.Dialer{
		Subprotocols:     []string{protocol.GraphQLWS},
		HandshakeTimeout: testTimeout,
	}
	legacyOnly, rsp, err := dialer.Dial(strings.Replace(ts.URL, "http", "ws", 1), nil)
	require.Nil(t, legacyOnly)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, rsp)
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)
}

func TestWithoutGraphQLTransportWS(t *testing.T) {
	_, ts := newTestServer(t, WithoutGraphQLTransportWS())

	conn := dial(t, ts.URL, protocol.GraphQLTransportWS, protocol.GraphQLWS)
	assert.Equal(t, protocol.GraphQLWS, conn.Subprotocol())
}

func TestEndToEndSubscription(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts.URL, protocol.GraphQLTransportWS)

	send(t, conn, `{"type":"connection_init"}`)
	expectFrame(t, conn, `{"type":"connection_ack"}`)

	send(t, conn, `{"id":"1","type":"subscribe","payload":{"query":"subscription { echo(message: \"Hi\") }"}}`)
	expectFrame(t, conn, `{"id":"1","type":"next","payload":{"data":{"echo":"Hi"}}}`)
	expectFrame(t, conn, `{"id":"1","type":"complete"}`)
}

func TestConnectionRegistry(t *testing.T) {
	srv, ts := newTestServer(t)
	require.Zero(t, srv.ConnectionCount())

	modern := dial(t, ts.URL, protocol.GraphQLTransportWS)
	send(t, modern, `{"type":"connection_init"}`)
	expectFrame(t, modern, `{"type":"connection_ack"}`)

	legacy := dial(t, ts.URL, protocol.GraphQLWS)
	send(t, legacy, `{"type":"connection_init"}`)
	expectFrame(t, legacy, `{"type":"connection_ack"}`)

	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 2
	}, testTimeout, 10*time.Millisecond)

	// both subprotocols share one registry
	seen := map[string]bool{}
	for _, conn := range srv.Connections() {
		seen[conn.Subprotocol()] = true

		got, ok := srv.Connection(conn.ConnectionID())
		require.True(t, ok)
		assert.Equal(t, conn.ConnectionID(), got.ConnectionID())
	}
	assert.True(t, seen[protocol.GraphQLTransportWS])
	assert.True(t, seen[protocol.GraphQLWS])

	_, ok := srv.Connection("unknown")
	assert.False(t, ok)

	// a closed connection leaves the registry
	legacy.Close()
	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 1
	}, testTimeout, 10*time.Millisecond)
}

func TestConnectionIsolation(t *testing.T) {
	srv, ts := newTestServer(t)

	a := dial(t, ts.URL, protocol.GraphQLTransportWS)
	send(t, a, `{"type":"connection_init"}`)
	expectFrame(t, a, `{"type":"connection_ack"}`)
	send(t, a, `{"id":"1","type":"subscribe","payload":{"query":"subscription { clock }"}}`)

	b := dial(t, ts.URL, protocol.GraphQLTransportWS)
	send(t, b, `{"type":"connection_init"}`)
	expectFrame(t, b, `{"type":"connection_ack"}`)
	send(t, b, `{"id":"1","type":"subscribe","payload":{"query":"subscription { clock }"}}`)

	first := readFrame(t, b)
	assert.Equal(t, protocol.MsgNext, first.Type)

	// tearing one connection down must not disturb the other's stream
	a.Close()
	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 1
	}, testTimeout, 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		msg := readFrame(t, b)
		require.Equal(t, "1", msg.ID)
		require.Equal(t, protocol.MsgNext, msg.Type)
	}
}

func TestShutdown(t *testing.T) {
	srv, ts := newTestServer(t)

	conn := dial(t, ts.URL, protocol.GraphQLTransportWS)
	send(t, conn, `{"type":"connection_init"}`)
	expectFrame(t, conn, `{"type":"connection_ack"}`)

	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 1
	}, testTimeout, 10*time.Millisecond)

	srv.Shutdown()
	expectClose(t, conn, websocket.CloseNormalClosure, "server shutting down")

	// the serving goroutine deregisters the connection after Done
	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 0
	}, testTimeout, 10*time.Millisecond)

	// connections arriving after shutdown are turned away
	late := dial(t, ts.URL, protocol.GraphQLTransportWS)
	expectClose(t, late, websocket.CloseNormalClosure, "server shutting down")
}

package gqlclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	server "github.com/bhoriuchi/graphql-ws-server"
	"github.com/bhoriuchi/graphql-ws-server/executor"
	"github.com/bhoriuchi/graphql-ws-server/utils/backoff"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol/graphqltransportws"
	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
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
				"hello": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return "world", nil
					},
				},
			},
		}),
		Subscription: graphql.NewObject(graphql.ObjectConfig{
			Name: "Subscription",
			Fields: graphql.Fields{
				"countdown": &graphql.Field{
					Type: graphql.Int,
					Args: graphql.FieldConfigArgument{
						"from": &graphql.ArgumentConfig{
							Type:         graphql.Int,
							DefaultValue: 3,
						},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return p.Source, nil
					},
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						from := p.Args["from"].(int)
						c := make(chan interface{}, from)
						for i := from; i > 0; i-- {
							c <- i
						}
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

func newSubTestServer(t *testing.T, opts ...server.Option) (*server.Server, string) {
	t.Helper()

	srv := server.NewWithSchema(newTestSchema(t), opts...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return srv, strings.Replace(ts.URL, "http", "ws", 1)
}

func connect(t *testing.T, url string, opts *SubscriptionOptions) *SubscriptionClient {
	t.Helper()

	if opts == nil {
		opts = &SubscriptionOptions{}
	}
	opts.URL = url

	client, err := NewSubscriptionClient(opts)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	return client
}

// collectcountdown drains an operation's results until the server
// completes it
func collectCountdown(t *testing.T, op *RemoteOperation) []int {
	t.Helper()

	values := []int{}
	for {
		select {
		case res, more := <-op.Results():
			if !more {
				return values
			}

			data, ok := res.Data.(map[string]interface{})
			require.True(t, ok, "unexpected payload data %v", res.Data)
			values = append(values, int(data["countdown"].(float64)))

		case <-time.After(testTimeout):
			t.Fatal("timed out waiting for results")
		}
	}
}

func TestNewSubscriptionClientValidation(t *testing.T) {
	_, err := NewSubscriptionClient(nil)
	require.EqualError(t, err, "no url provided")

	_, err = NewSubscriptionClient(&SubscriptionOptions{})
	require.EqualError(t, err, "no url provided")
}

func TestSubscribeCountdown(t *testing.T) {
	_, url := newSubTestServer(t)
	client := connect(t, url, nil)

	op, err := client.Subscribe(Request{Query: `subscription { countdown(from: 3) }`})
	require.NoError(t, err)
	require.NotEmpty(t, op.ID())

	assert.Equal(t, []int{3, 2, 1}, collectCountdown(t, op))

	select {
	case <-op.Done():
	case <-time.After(testTimeout):
		t.Fatal("operation never finished")
	}
	require.NoError(t, op.Err())
}

func TestSubscribeQueryOverWebsocket(t *testing.T) {
	_, url := newSubTestServer(t)
	client := connect(t, url, nil)

	op, err := client.Subscribe(Request{Query: `{ hello }`})
	require.NoError(t, err)

	select {
	case res, more := <-op.Results():
		require.True(t, more)
		assert.Equal(t, map[string]interface{}{"hello": "world"}, res.Data)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for result")
	}

	select {
	case <-op.Done():
	case <-time.After(testTimeout):
		t.Fatal("operation never finished")
	}
	require.NoError(t, op.Err())
}

func TestSubscribeNotConnected(t *testing.T) {
	client, err := NewSubscriptionClient(&SubscriptionOptions{URL: "ws://localhost:0"})
	require.NoError(t, err)

	_, err = client.Subscribe(Request{Query: `{ hello }`})
	require.EqualError(t, err, "client is not connected")
}

func TestConnectTwice(t *testing.T) {
	_, url := newSubTestServer(t)
	client := connect(t, url, nil)

	err := client.Connect(context.Background())
	require.EqualError(t, err, "client is already connected")
}

func TestConnectionParams(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	_, url := newSubTestServer(t, server.WithGraphQLTransportWSOptions(server.GraphQLTransportWSOptions{
		OnConnect: func(c protocol.Context, params map[string]interface{}) (interface{}, error) {
			received <- params
			return nil, nil
		},
	}))

	connect(t, url, &SubscriptionOptions{
		ConnectionParams: map[string]interface{}{"token": "abc"},
	})

	select {
	case params := <-received:
		assert.Equal(t, map[string]interface{}{"token": "abc"}, params)
	case <-time.After(testTimeout):
		t.Fatal("onConnect hook never fired")
	}
}

func TestOperationError(t *testing.T) {
	_, url := newSubTestServer(t, server.WithGraphQLTransportWSOptions(server.GraphQLTransportWSOptions{
		OnSubscribe: func(c protocol.Context, msg graphqltransportws.SubscribeMessage) (*executor.Params, gqlerrors.FormattedErrors) {
			return nil, gqlerrors.FormattedErrors{gqlerrors.NewFormattedError("not allowed")}
		},
	}))
	client := connect(t, url, nil)

	op, err := client.Subscribe(Request{Query: `subscription { countdown }`})
	require.NoError(t, err)

	select {
	case <-op.Done():
	case <-time.After(testTimeout):
		t.Fatal("operation never finished")
	}

	opErr := OperationError{}
	require.ErrorAs(t, op.Err(), &opErr)
	require.Len(t, opErr.Errors, 1)
	assert.Equal(t, "not allowed", opErr.Errors[0].Message)
	assert.Equal(t, "not allowed", opErr.Error())

	// the results channel is closed alongside the error
	select {
	case _, more := <-op.Results():
		assert.False(t, more)
	case <-time.After(testTimeout):
		t.Fatal("results channel never closed")
	}
}

func TestUnsubscribe(t *testing.T) {
	srv, url := newSubTestServer(t)
	client := connect(t, url, nil)

	op, err := client.Subscribe(Request{Query: `subscription { clock }`})
	require.NoError(t, err)

	select {
	case _, more := <-op.Results():
		require.True(t, more)
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for first result")
	}

	require.NoError(t, op.Unsubscribe())

	select {
	case <-op.Done():
	case <-time.After(testTimeout):
		t.Fatal("operation never finished")
	}
	require.NoError(t, op.Err())

	// the complete frame releases the operation server side
	require.Eventually(t, func() bool {
		conns := srv.Connections()
		return len(conns) == 1 && conns[0].OperationCount() == 0
	}, testTimeout, 10*time.Millisecond)
}

func TestPing(t *testing.T) {
	pinged := make(chan map[string]interface{}, 1)
	_, url := newSubTestServer(t, server.WithGraphQLTransportWSOptions(server.GraphQLTransportWSOptions{
		OnPing: func(c protocol.Context, payload map[string]interface{}) map[string]interface{} {
			pinged <- payload
			return nil
		},
	}))
	client := connect(t, url, nil)

	require.NoError(t, client.Ping(map[string]interface{}{"probe": true}))

	select {
	case payload := <-pinged:
		assert.Equal(t, map[string]interface{}{"probe": true}, payload)
	case <-time.After(testTimeout):
		t.Fatal("onPing hook never fired")
	}
}

func TestAckTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	// a server that upgrades but never acknowledges
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		responseHeader := http.Header{}
		responseHeader.Set("Sec-WebSocket-Protocol", graphqltransportws.Subprotocol)

		conn, err := upgrader.Upgrade(w, r, responseHeader)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)

	client, err := NewSubscriptionClient(&SubscriptionOptions{
		URL:        strings.Replace(ts.URL, "http", "ws", 1),
		AckTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.EqualError(t, err, "timed out waiting for connection_ack")
}

func TestReconnect(t *testing.T) {
	srv, url := newSubTestServer(t)

	client := connect(t, url, &SubscriptionOptions{
		Reconnect: true,
		Backoff: &backoff.Options{
			Min: 10 * time.Millisecond,
			Max: 50 * time.Millisecond,
		},
	})

	require.Eventually(t, func() bool {
		return srv.ConnectionCount() == 1
	}, testTimeout, 10*time.Millisecond)

	// kick the client server side and wait for the redial
	for _, conn := range srv.Connections() {
		conn.Close("kicked")
	}

	require.Eventually(t, func() bool {
		op, err := client.Subscribe(Request{Query: `subscription { countdown(from: 1) }`})
		if err != nil {
			return false
		}

		select {
		case _, more := <-op.Results():
			return more
		case <-time.After(time.Second):
			return false
		}
	}, testTimeout, 50*time.Millisecond)
}

func TestCloseIdempotent(t *testing.T) {
	_, url := newSubTestServer(t)
	client := connect(t, url, nil)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	err := client.Connect(context.Background())
	require.EqualError(t, err, "client is closed")
}

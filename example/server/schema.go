package main

import (
	"fmt"
	"time"

	server "github.com/bhoriuchi/graphql-ws-server"
	"github.com/bhoriuchi/graphql-ws-server/metadata"
	"github.com/graphql-go/graphql"
	"github.com/sirupsen/logrus"
)

// buildSchema assembles the demo schema. Queries inspect the server
// itself, subscriptions demonstrate finite and infinite streams.
func buildSchema(l *logrus.Logger, getServer func() *server.Server) (graphql.Schema, error) {
	return graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name: "Query",
			Fields: graphql.Fields{
				"hello": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return "world", nil
					},
				},
				"activeConnections": &graphql.Field{
					Type: graphql.Int,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						srv := getServer()
						if srv == nil {
							return nil, fmt.Errorf("server not ready")
						}

						return srv.ConnectionCount(), nil
					},
				},
				// activeOperations reports how many operations a
				// connection is running, not counting the query itself
				// when asked over the websocket
				"activeOperations": &graphql.Field{
					Type: graphql.Int,
					Args: graphql.FieldConfigArgument{
						"connectionId": &graphql.ArgumentConfig{
							Type: graphql.String,
						},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						srv := getServer()
						if srv == nil {
							return nil, fmt.Errorf("server not ready")
						}

						connectionID, _ := p.Args["connectionId"].(string)
						if connectionID == "" {
							connectionID, _ = metadata.ReadString(p.Context, metadata.ConnectionIDKey)
						}

						conn, ok := srv.Connection(connectionID)
						if !ok {
							return nil, fmt.Errorf("unknown connection %q", connectionID)
						}

						own, _ := metadata.ReadString(p.Context, metadata.OperationIDKey)

						count := 0
						for _, id := range conn.OperationIDs() {
							if id == own {
								continue
							}
							count++
						}

						return count, nil
					},
				},
				"connectionId": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						id, _ := metadata.ReadString(p.Context, metadata.ConnectionIDKey)
						return id, nil
					},
				},
			},
		}),
		Subscription: graphql.NewObject(graphql.ObjectConfig{
			Name: "Subscription",
			Fields: graphql.Fields{
				// echo emits the message once and completes
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
						message := p.Args["message"].(string)

						c := make(chan interface{}, 1)
						c <- message
						close(c)

						return c, nil
					},
				},
				// countdown emits from..1 on an interval and completes
				"countdown": &graphql.Field{
					Type: graphql.Int,
					Args: graphql.FieldConfigArgument{
						"from": &graphql.ArgumentConfig{
							Type:         graphql.Int,
							DefaultValue: 5,
						},
						"waitMs": &graphql.ArgumentConfig{
							Type:         graphql.Int,
							DefaultValue: 1000,
						},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return p.Source, nil
					},
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						from := p.Args["from"].(int)
						wait := time.Duration(p.Args["waitMs"].(int)) * time.Millisecond

						c := make(chan interface{})
						go func() {
							defer close(c)

							for i := from; i > 0; i-- {
								l.Tracef("countdown at %d", i)

								select {
								case <-p.Context.Done():
									return
								case c <- i:
								}

								select {
								case <-p.Context.Done():
									return
								case <-time.After(wait):
								}
							}
						}()

						return c, nil
					},
				},
				// clock streams timestamps until the client stops it
				"clock": &graphql.Field{
					Type: graphql.String,
					Args: graphql.FieldConfigArgument{
						"waitMs": &graphql.ArgumentConfig{
							Type:         graphql.Int,
							DefaultValue: 1000,
						},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						return p.Source, nil
					},
					Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
						wait := time.Duration(p.Args["waitMs"].(int)) * time.Millisecond

						c := make(chan interface{})
						go func() {
							defer close(c)

							ticker := time.NewTicker(wait)
							defer ticker.Stop()

							for {
								select {
								case <-p.Context.Done():
									return
								case t := <-ticker.C:
									select {
									case <-p.Context.Done():
										return
									case c <- t.Format(time.RFC3339):
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
}

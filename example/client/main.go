package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bhoriuchi/graphql-ws-server/gqlclient"
	"github.com/bhoriuchi/graphql-ws-server/logger"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/pflag"
)

func main() {
	var (
		url     string
		query   string
		timeout time.Duration
	)

	pflag.StringVar(&url, "url", "ws://localhost:3000/graphql", "websocket endpoint")
	pflag.StringVar(&query, "query", "subscription { countdown(from: 5, waitMs: 500) }", "operation to run")
	pflag.DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	pflag.Parse()

	client, err := gqlclient.NewSubscriptionClient(&gqlclient.SubscriptionOptions{
		URL:     url,
		LogFunc: logger.NewSimpleLogFunc(logger.DebugLevel),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %s\n", err)
		os.Exit(1)
	}
	defer client.Close()

	op, err := client.Subscribe(gqlclient.Request{Query: query})
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscribe failed: %s\n", err)
		os.Exit(1)
	}

	for {
		select {
		case res, ok := <-op.Results():
			if !ok {
				if err := op.Err(); err != nil {
					fmt.Fprintf(os.Stderr, "operation failed: %s\n", err)
					os.Exit(1)
				}
				return
			}

			out, err := jsoniter.MarshalToString(res)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to encode result: %s\n", err)
				continue
			}
			fmt.Println(out)

		case <-ctx.Done():
			op.Unsubscribe()
			return
		}
	}
}

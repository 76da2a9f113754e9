package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	server "github.com/bhoriuchi/graphql-ws-server"
	"github.com/bhoriuchi/graphql-ws-server/ide"
	"github.com/bhoriuchi/graphql-ws-server/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	var (
		addr        string
		logLevel    string
		keepAlive   time.Duration
		initTimeout time.Duration
		pingEvery   time.Duration
	)

	pflag.StringVar(&addr, "addr", ":3000", "listen address")
	pflag.StringVar(&logLevel, "log-level", "debug", "log level (trace, debug, info, warn, error)")
	pflag.DurationVar(&keepAlive, "keep-alive", 10*time.Second, "graphql-ws ka interval, 0 disables")
	pflag.DurationVar(&initTimeout, "init-timeout", 3*time.Second, "graphql-transport-ws connection_init wait timeout, negative disables")
	pflag.DurationVar(&pingEvery, "ping-interval", 0, "graphql-transport-ws server ping interval, 0 disables")
	pflag.Parse()

	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		l.Fatalf("invalid log level %q: %s", logLevel, err)
	}
	l.SetLevel(level)

	// the schema resolvers look the server up lazily because the
	// server is constructed from the schema
	var srv *server.Server
	schema, err := buildSchema(l, func() *server.Server { return srv })
	if err != nil {
		l.Fatalf("failed to build schema: %s", err)
	}

	srv = server.NewWithSchema(
		schema,
		server.WithLogFunc(logger.NewLogrusLogFunc(l)),
		server.WithKeepAlive(keepAlive),
		server.WithConnectionInitWaitTimeout(initTimeout),
		server.WithPingInterval(pingEvery),
	)

	mux := http.NewServeMux()
	mux.Handle("/graphql", srv)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ide.RenderPlayground(&ide.PlaygroundOptions{
			Endpoint:             "/graphql",
			SubscriptionEndpoint: fmt.Sprintf("ws://%s/graphql", r.Host),
		}, w, r)
	})

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		l.Infof("listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Errorf("http server failed: %s", err)
			stop()
		}
	}()

	<-ctx.Done()
	l.Infof("shutting down")

	srv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		l.Errorf("http shutdown failed: %s", err)
	}
}

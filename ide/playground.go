// Package ide serves the GraphQL Playground page. The page speaks the
// deprecated graphql-ws subprotocol for subscriptions, which the
// websocket server still supports.
package ide

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
)

// PlaygroundVersion is the graphql-playground-react build the page
// loads when no version is configured
var PlaygroundVersion = "1.7.28"

var playgroundTemplate = template.Must(template.New("playground").Parse(playgroundHTML))

// PlaygroundOptions configures the rendered page
type PlaygroundOptions struct {
	Version              string
	SSL                  bool
	Endpoint             string
	SubscriptionEndpoint string
}

// NewDefaultPlaygroundOptions returns options for a plaintext endpoint
func NewDefaultPlaygroundOptions() *PlaygroundOptions {
	return &PlaygroundOptions{
		Version: PlaygroundVersion,
	}
}

// NewDefaultSSLPlaygroundOptions returns options for a TLS endpoint
func NewDefaultSSLPlaygroundOptions() *PlaygroundOptions {
	return &PlaygroundOptions{
		Version: PlaygroundVersion,
		SSL:     true,
	}
}

type playgroundData struct {
	PlaygroundVersion    string
	Endpoint             string
	SubscriptionEndpoint string
	SetTitle             bool
}

// Handler returns an http handler that renders the playground
func Handler(opts *PlaygroundOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RenderPlayground(opts, w, r)
	})
}

// RenderPlayground writes the playground page. The endpoints default
// to the request path when the options leave them empty.
func RenderPlayground(opts *PlaygroundOptions, w http.ResponseWriter, r *http.Request) {
	if opts == nil {
		opts = NewDefaultPlaygroundOptions()
	}

	endpoint := r.URL.Path
	if opts.Endpoint != "" {
		endpoint = opts.Endpoint
	}

	wsScheme := "ws:"
	if opts.SSL {
		wsScheme = "wss:"
	}

	subscriptionEndpoint := fmt.Sprintf("%s//%s%s", wsScheme, r.Host, endpoint)
	if opts.SubscriptionEndpoint != "" {
		subscriptionEndpoint = opts.SubscriptionEndpoint
	}

	version := ""
	if opts.Version != "" {
		version = fmt.Sprintf("@%s", strings.TrimLeft(opts.Version, "@"))
	}

	data := playgroundData{
		PlaygroundVersion:    version,
		Endpoint:             endpoint,
		SubscriptionEndpoint: subscriptionEndpoint,
		SetTitle:             true,
	}

	if err := playgroundTemplate.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

const playgroundHTML = `<!DOCTYPE html>
<html>

<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>GraphQL Playground</title>
  <link rel="stylesheet" href="//cdn.jsdelivr.net/npm/graphql-playground-react{{ .PlaygroundVersion }}/build/static/css/index.css" />
  <link rel="shortcut icon" href="//cdn.jsdelivr.net/npm/graphql-playground-react{{ .PlaygroundVersion }}/build/favicon.png" />
  <script src="//cdn.jsdelivr.net/npm/graphql-playground-react{{ .PlaygroundVersion }}/build/static/js/middleware.js"></script>
</head>

<body>
  <div id="root">
    <style>
      body {
        background-color: rgb(23, 42, 58);
        font-family: Open Sans, sans-serif;
        height: 90vh;
      }

      #root {
        height: 100%;
        width: 100%;
        display: flex;
        align-items: center;
        justify-content: center;
      }

      .loading {
        font-size: 32px;
        font-weight: 200;
        color: rgba(255, 255, 255, .6);
        margin-left: 20px;
      }

      img {
        width: 78px;
        height: 78px;
      }

      .title {
        font-weight: 400;
      }
    </style>
    <img src='//cdn.jsdelivr.net/npm/graphql-playground-react/build/logo.png' alt=''>
    <div class="loading"> Loading
      <span class="title">GraphQL Playground</span>
    </div>
  </div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: {{ .Endpoint }},
        subscriptionEndpoint: {{ .SubscriptionEndpoint }},
        setTitle: {{ .SetTitle }}
      })
    })</script>
</body>

</html>
`

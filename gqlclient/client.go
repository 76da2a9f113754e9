package gqlclient

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const defaultRequestTimeout = 10 * time.Second

// BeforeFunc modifies the request before it is sent
type BeforeFunc func(req *http.Request) error

// Options client options
type Options struct {
	URL            string
	Before         []BeforeFunc
	Insecure       bool
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Client a graphql client
type Client struct {
	url        string
	before     []BeforeFunc
	httpClient *http.Client
}

// NewClient creates a new client
func NewClient(opts *Options) (*Client, error) {
	var httpClient *http.Client

	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	if opts.HTTPClient != nil {
		httpClient = opts.HTTPClient
	} else {
		httpClient = &http.Client{
			Timeout: opts.RequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: opts.Insecure,
				},
			},
		}
	}

	return &Client{
		url:        opts.URL,
		before:     opts.Before,
		httpClient: httpClient,
	}, nil
}

// Request performs a request
func (c *Client) Request(request Request) (*Response, error) {
	rsp := &Response{}

	body, err := request.toReader()
	if err != nil {
		return rsp, err
	}

	rsp.httpRequest, err = http.NewRequest(http.MethodPost, c.url, body)
	if err != nil {
		return nil, err
	}
	rsp.httpRequest.Header.Set("Content-Type", "application/json")

	// apply before middleware
	for _, before := range c.before {
		if err := before(rsp.httpRequest); err != nil {
			return rsp, err
		}
	}

	rsp.httpResponse, err = c.httpClient.Do(rsp.httpRequest)
	if err != nil {
		return rsp, err
	}
	defer rsp.httpResponse.Body.Close()

	rsp.rawResult, err = io.ReadAll(rsp.httpResponse.Body)
	if err != nil {
		return rsp, err
	}

	var grsp graphQLResponse
	if err := jsoniter.Unmarshal(rsp.rawResult, &grsp); err != nil {
		return rsp, err
	}

	rsp.data = grsp.Data
	if len(grsp.Errors) > 0 {
		rsp.errors = grsp.Errors
	}

	if rsp.httpResponse.StatusCode != http.StatusOK {
		return rsp, fmt.Errorf("%s", rsp.httpResponse.Status)
	}

	return rsp, nil
}

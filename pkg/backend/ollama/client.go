package ollama

import (
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "llama3.1:8b"
	DefaultTimeout = 120 * time.Second
)

// Client talks to the Ollama HTTP API.
type Client struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.BaseURL = u
		}
	}
}

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.Model = model
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// WithTimeout bounds every backend call. Zero disables the bound.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.Timeout = d }
}

func NewClient(options ...ClientOption) *Client {
	client := &Client{
		BaseURL: DefaultBaseURL,
		Model:   DefaultModel,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				TLSHandshakeTimeout:   10 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: DefaultTimeout,
			},
		},
		Timeout: DefaultTimeout,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

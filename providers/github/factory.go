package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"github.com/goliatone/go-commit-hooks/core"
)

const (
	PublicServer          = "github.com"
	DefaultUserAgent      = "go-commit-hooks"
	defaultRequestTimeout = 30 * time.Second
	enterpriseAPIPath     = "/api/v3/"
)

type Config struct {
	// APIBaseURL overrides the api root for every connection.
	APIBaseURL     string
	UserAgent      string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

func DefaultConfig() Config {
	return Config{
		UserAgent:      DefaultUserAgent,
		RequestTimeout: defaultRequestTimeout,
	}
}

// ClientFactory builds one client per connection and token.
type ClientFactory struct {
	cfg Config
}

func New(cfg Config) (*ClientFactory, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if base := strings.TrimSpace(cfg.APIBaseURL); base != "" {
		if _, err := parseBaseURL(base); err != nil {
			return nil, err
		}
	}
	return &ClientFactory{cfg: cfg}, nil
}

func (f *ClientFactory) ClientFor(_ context.Context, connection core.Connection, token core.Token) (core.RemoteHookClient, error) {
	if f == nil {
		return nil, fmt.Errorf("providers/github: client factory is nil")
	}
	access := strings.TrimSpace(token.AccessToken)
	if access == "" {
		return nil, fmt.Errorf("providers/github: access token is required")
	}

	client := gh.NewClient(f.httpClient()).WithAuthToken(access)
	client.UserAgent = f.cfg.UserAgent

	base, err := f.baseURLFor(connection)
	if err != nil {
		return nil, err
	}
	if base != nil {
		client.BaseURL = base
	}
	return &Client{gh: client}, nil
}

// httpClient never follows redirects so that renamed repositories surface as
// moved instead of being silently resolved.
func (f *ClientFactory) httpClient() *http.Client {
	var client http.Client
	if f.cfg.HTTPClient != nil {
		client = *f.cfg.HTTPClient
	}
	if client.Timeout <= 0 {
		client.Timeout = f.cfg.RequestTimeout
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &client
}

func (f *ClientFactory) baseURLFor(connection core.Connection) (*url.URL, error) {
	if base := strings.TrimSpace(connection.APIBaseURL); base != "" {
		return parseBaseURL(base)
	}
	if base := strings.TrimSpace(f.cfg.APIBaseURL); base != "" {
		return parseBaseURL(base)
	}
	server := strings.ToLower(strings.TrimSpace(connection.Server))
	if server == "" || server == PublicServer {
		return nil, nil
	}
	return parseBaseURL("https://" + server + enterpriseAPIPath)
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("providers/github: invalid api base url %q: %w", raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("providers/github: invalid api base url %q", raw)
	}
	return parsed, nil
}

var _ core.RemoteClientFactory = (*ClientFactory)(nil)

// Package oauth implements the GitHub OAuth exchanges the credential pool
// depends on: the device authorization flow that mints new tokens and the
// refresh-token exchange that renews them. Tokens are opaque strings; this
// package stores and forwards them without inspection.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"CopilotLane/internal/conf"
	"CopilotLane/pkg/oauth/util"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is oauth providers.
var ProviderSet = wire.NewSet(NewClient)

// TokenSet is the result of a successful exchange.
type TokenSet struct {
	Access  string
	Refresh string
	// Expires is epoch ms; 0 means the token never expires or the issuer
	// did not say.
	Expires int64
}

// Client talks to a GitHub host's OAuth endpoints. One client serves every
// host; the host is a per-call argument because accounts from github.com
// and enterprise domains coexist in the same pool.
type Client struct {
	clientID string
	http     *http.Client
	logger   *log.Helper

	// baseURL overrides the https://<host> prefix in tests.
	baseURL func(host string) string
}

// NewClient builds the OAuth client from upstream configuration, honoring
// the configured proxy.
func NewClient(c *conf.Upstream, logger log.Logger) (*Client, error) {
	httpClient, err := util.CreateHTTPClient(c.ProxyURL, c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("build oauth http client: %w", err)
	}
	return &Client{
		clientID: c.ClientID,
		http:     httpClient,
		logger:   log.NewHelper(logger),
		baseURL:  func(host string) string { return "https://" + host },
	}, nil
}

// OverrideBaseURL points every exchange at a fixed base URL regardless of
// host. Tests use it to aim the client at a local server.
func (c *Client) OverrideBaseURL(base string) {
	c.baseURL = func(string) string { return base }
}

func (c *Client) deviceCodeURL(host string) string {
	return c.baseURL(host) + "/login/device/code"
}

func (c *Client) accessTokenURL(host string) string {
	return c.baseURL(host) + "/login/oauth/access_token"
}

// postJSON issues one JSON-in JSON-out POST and decodes the body into out.
func (c *Client) postJSON(ctx context.Context, url string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

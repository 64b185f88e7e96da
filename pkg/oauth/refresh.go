package oauth

import (
	"context"
	"time"

	pkgerrors "CopilotLane/pkg/errors"
)

type refreshRequest struct {
	ClientID     string `json:"client_id"`
	RefreshToken string `json:"refresh_token"`
	GrantType    string `json:"grant_type"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Error        string `json:"error"`
	Interval     int64  `json:"interval"`
}

// Refresh exchanges a refresh token for fresh tokens against the issuing
// host. A non-2xx status or a response without an access token is a
// RefreshFailed error; the caller keeps the stale token in that case.
func (c *Client) Refresh(ctx context.Context, host, refreshToken string) (*TokenSet, error) {
	var resp tokenResponse
	status, err := c.postJSON(ctx, c.accessTokenURL(host), refreshRequest{
		ClientID:     c.clientID,
		RefreshToken: refreshToken,
		GrantType:    "refresh_token",
	}, &resp)
	if err != nil {
		return nil, pkgerrors.RefreshFailed(host, err)
	}
	if status < 200 || status >= 300 || resp.AccessToken == "" {
		c.logger.Warnw("msg", "token refresh rejected", "host", host, "status", status, "oauth_error", resp.Error)
		return nil, pkgerrors.RefreshFailed(host, nil)
	}

	out := &TokenSet{
		Access:  resp.AccessToken,
		Refresh: resp.RefreshToken,
	}
	if out.Refresh == "" {
		out.Refresh = refreshToken
	}
	if resp.ExpiresIn > 0 {
		out.Expires = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second).UnixMilli()
	}
	return out, nil
}

package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// pollSafetyMargin pads every poll delay so the issuer never sees a request
// before its stated interval has elapsed. Variable so tests can shrink it.
var pollSafetyMargin = 3 * time.Second

// defaultMaxPolls bounds the polling loop when the caller passes no limit.
// GitHub device codes live for 15 minutes; 180 polls at the minimum 5s
// interval covers the full lifetime.
const defaultMaxPolls = 180

// ErrAuthorizationExpired means the user never approved the device code
// before the polling budget ran out.
var ErrAuthorizationExpired = errors.New("oauth: device authorization expired")

// DeviceAuthorization is the pending half of the device flow: show
// VerificationURI and UserCode to the user, then call Poll.
type DeviceAuthorization struct {
	UserCode        string
	VerificationURI string
	deviceCode      string
	interval        time.Duration
	host            string
}

type deviceCodeRequest struct {
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Interval        int64  `json:"interval"`
}

type deviceTokenRequest struct {
	ClientID   string `json:"client_id"`
	DeviceCode string `json:"device_code"`
	GrantType  string `json:"grant_type"`
}

// BeginDeviceFlow requests a device and user code pair from the host.
func (c *Client) BeginDeviceFlow(ctx context.Context, host string) (*DeviceAuthorization, error) {
	var resp deviceCodeResponse
	status, err := c.postJSON(ctx, c.deviceCodeURL(host), deviceCodeRequest{
		ClientID: c.clientID,
		Scope:    "read:user",
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("initiate device authorization: %w", err)
	}
	if status < 200 || status >= 300 || resp.DeviceCode == "" {
		return nil, fmt.Errorf("initiate device authorization: HTTP %d", status)
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DeviceAuthorization{
		UserCode:        resp.UserCode,
		VerificationURI: resp.VerificationURI,
		deviceCode:      resp.DeviceCode,
		interval:        interval,
		host:            host,
	}, nil
}

// Poll exchanges the device code for tokens, sleeping between attempts per
// the issuer's interval plus a safety margin. authorization_pending keeps
// polling; slow_down grows the interval; any other OAuth error, a non-2xx
// status or an exhausted budget ends the flow. Cancel through ctx.
//
// The issued token carries no expiry and serves as both the access and the
// refresh credential; the request path exchanges it for short-lived API
// tokens as needed.
func (c *Client) Poll(ctx context.Context, auth *DeviceAuthorization) (*TokenSet, error) {
	interval := auth.interval

	for attempt := 0; attempt < defaultMaxPolls; attempt++ {
		var resp tokenResponse
		status, err := c.postJSON(ctx, c.accessTokenURL(auth.host), deviceTokenRequest{
			ClientID:   c.clientID,
			DeviceCode: auth.deviceCode,
			GrantType:  "urn:ietf:params:oauth:grant-type:device_code",
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("poll device authorization: %w", err)
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("poll device authorization: HTTP %d", status)
		}

		if resp.AccessToken != "" {
			return &TokenSet{Access: resp.AccessToken, Refresh: resp.AccessToken}, nil
		}

		switch resp.Error {
		case "authorization_pending":
		case "slow_down":
			if resp.Interval > 0 {
				interval = time.Duration(resp.Interval) * time.Second
			} else {
				interval += 5 * time.Second
			}
		case "":
		default:
			return nil, fmt.Errorf("poll device authorization: %s", resp.Error)
		}

		if err := sleepCtx(ctx, interval+pollSafetyMargin); err != nil {
			return nil, err
		}
	}
	return nil, ErrAuthorizationExpired
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package errors defines the closed set of failure kinds that cross the
// credential pool boundary. Every externally visible error carries one of the
// reason codes below so callers can branch without string matching.
package errors

import (
	"fmt"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Reason codes for pool errors. The set is closed: new failure classes get a
// new constant here, never an ad-hoc error value.
const (
	// ReasonPoolExhausted means no enabled, non-cooling account on the target
	// host qualifies for the requested model.
	ReasonPoolExhausted = "POOL_EXHAUSTED"
	// ReasonAuthRejected means the upstream rejected the credential (401/403).
	ReasonAuthRejected = "AUTH_REJECTED"
	// ReasonRateLimited means the upstream throttled the credential (429/503).
	ReasonRateLimited = "RATE_LIMITED"
	// ReasonModelUnsupported means the upstream reported the model as not
	// found for the selected account.
	ReasonModelUnsupported = "MODEL_UNSUPPORTED"
	// ReasonRefreshFailed means a token refresh exchange did not yield a new
	// access token.
	ReasonRefreshFailed = "REFRESH_FAILED"
	// ReasonPersistenceFailure means the account store could not be written.
	ReasonPersistenceFailure = "PERSISTENCE_FAILURE"
)

// PoolExhausted reports that no eligible account exists for model on host.
func PoolExhausted(model, host string) error {
	return kerrors.New(503, ReasonPoolExhausted,
		fmt.Sprintf("no eligible accounts for model %q on host %q", model, host))
}

// AuthRejected reports an upstream credential rejection for the given account.
func AuthRejected(accountLabel string, status int) error {
	return kerrors.New(status, ReasonAuthRejected,
		fmt.Sprintf("upstream rejected credentials for account %q (HTTP %d)", accountLabel, status))
}

// RateLimited reports an upstream throttle with the backoff applied, in ms.
func RateLimited(accountLabel string, backoffMs int64) error {
	return kerrors.New(429, ReasonRateLimited,
		fmt.Sprintf("account %q rate limited, cooling down for %dms", accountLabel, backoffMs))
}

// ModelUnsupported reports that an account cannot serve a model.
func ModelUnsupported(accountLabel, model string) error {
	return kerrors.New(404, ReasonModelUnsupported,
		fmt.Sprintf("model %q not available on account %q", model, accountLabel))
}

// RefreshFailed reports a failed token refresh exchange.
func RefreshFailed(accountLabel string, cause error) error {
	e := kerrors.New(401, ReasonRefreshFailed,
		fmt.Sprintf("token refresh failed for account %q", accountLabel))
	if cause != nil {
		return e.WithCause(cause)
	}
	return e
}

// PersistenceFailure reports that the account store could not be persisted.
// Write errors are surfaced rather than swallowed: silent credential loss is
// worse than a visible failure of the mutating operation.
func PersistenceFailure(cause error) error {
	e := kerrors.New(500, ReasonPersistenceFailure, "failed to persist account store")
	if cause != nil {
		return e.WithCause(cause)
	}
	return e
}

// IsPoolExhausted reports whether err carries ReasonPoolExhausted.
func IsPoolExhausted(err error) bool { return kerrors.Reason(err) == ReasonPoolExhausted }

// IsAuthRejected reports whether err carries ReasonAuthRejected.
func IsAuthRejected(err error) bool { return kerrors.Reason(err) == ReasonAuthRejected }

// IsRateLimited reports whether err carries ReasonRateLimited.
func IsRateLimited(err error) bool { return kerrors.Reason(err) == ReasonRateLimited }

// IsModelUnsupported reports whether err carries ReasonModelUnsupported.
func IsModelUnsupported(err error) bool { return kerrors.Reason(err) == ReasonModelUnsupported }

// IsRefreshFailed reports whether err carries ReasonRefreshFailed.
func IsRefreshFailed(err error) bool { return kerrors.Reason(err) == ReasonRefreshFailed }

// IsPersistenceFailure reports whether err carries ReasonPersistenceFailure.
func IsPersistenceFailure(err error) bool { return kerrors.Reason(err) == ReasonPersistenceFailure }

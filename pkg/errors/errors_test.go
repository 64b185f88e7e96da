package errors

import (
	"errors"
	"testing"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/stretchr/testify/assert"
)

func TestPoolExhausted(t *testing.T) {
	err := PoolExhausted("gpt-5-mini", "github.com")

	assert.True(t, IsPoolExhausted(err))
	assert.False(t, IsRateLimited(err))
	assert.Contains(t, err.Error(), "gpt-5-mini")
	assert.Contains(t, err.Error(), "github.com")
}

func TestReasonHelpers_Disjoint(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"auth", AuthRejected("work", 401), IsAuthRejected},
		{"rate", RateLimited("work", 30000), IsRateLimited},
		{"model", ModelUnsupported("work", "claude-3"), IsModelUnsupported},
		{"refresh", RefreshFailed("work", nil), IsRefreshFailed},
		{"persist", PersistenceFailure(nil), IsPersistenceFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.check(tc.err))
			assert.False(t, IsPoolExhausted(tc.err))
		})
	}
}

func TestRefreshFailed_WrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := RefreshFailed("personal", cause)

	assert.True(t, IsRefreshFailed(err))

	var ke *kerrors.Error
	assert.True(t, errors.As(err, &ke))
	assert.Equal(t, cause, ke.Unwrap())
}

func TestRateLimited_CarriesStatus(t *testing.T) {
	err := RateLimited("work", 2000)

	var ke *kerrors.Error
	assert.True(t, errors.As(err, &ke))
	assert.EqualValues(t, 429, ke.Code)
}

package data

import (
	"time"

	"github.com/google/uuid"
)

// StoreVersion is the schema tag of the persisted account store document.
const StoreVersion = 1

// Account is one stored OAuth credential plus its rotation and health state.
// Epoch-millisecond fields mirror the persisted document exactly; zero means
// unset.
type Account struct {
	// ID is an opaque unique identifier assigned at creation, immutable.
	ID string `json:"id"`
	// Label is the human-readable account name.
	Label string `json:"label"`
	// Host is the issuing authority's domain. Accounts on different hosts are
	// never interchangeable.
	Host string `json:"host"`
	// Refresh is the opaque refresh token.
	Refresh string `json:"refresh"`
	// Access is the opaque access token forwarded as the bearer credential.
	Access string `json:"access"`
	// Expires is the access token expiry in epoch ms; 0 means never/unknown.
	Expires int64 `json:"expires"`
	// Enabled gates the account in and out of selection, manually togglable.
	Enabled bool `json:"enabled"`
	// Models is the static allow-list of model identifiers this account is
	// known to serve. Empty or absent means all models.
	Models []string `json:"models,omitempty"`
	// LastUsed is the epoch ms of the last successful call.
	LastUsed int64 `json:"lastUsed,omitempty"`
	// CooldownUntil excludes the account from selection until this epoch ms.
	CooldownUntil int64 `json:"cooldownUntil,omitempty"`
	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int32 `json:"consecutiveFailures,omitempty"`
}

// NewAccountID generates a fresh account identifier.
func NewAccountID() string {
	return uuid.NewString()
}

// Cooling reports whether the account is inside a cooldown window at now.
func (a *Account) Cooling(now time.Time) bool {
	return a.CooldownUntil > 0 && a.CooldownUntil > now.UnixMilli()
}

// SupportsModel reports whether the static allow-list admits the model.
// An empty list admits every model.
func (a *Account) SupportsModel(model string) bool {
	if len(a.Models) == 0 {
		return true
	}
	for _, m := range a.Models {
		if m == model {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can hold a checked-out view without
// aliasing the registry's own record.
func (a *Account) Clone() *Account {
	cp := *a
	if a.Models != nil {
		cp.Models = append([]string(nil), a.Models...)
	}
	return &cp
}

// AccountStore is the persisted aggregate: the ordered credential pool plus
// the round-robin cursors. Cursors are advisory; losing them on restart only
// resets rotation to the first account.
type AccountStore struct {
	Version         int            `json:"version"`
	Accounts        []*Account     `json:"accounts"`
	LastIndex       int            `json:"lastIndex"`
	LastIndexByHost map[string]int `json:"lastIndexByHost"`
}

// NewAccountStore returns an empty store at the current schema version.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		Version:         StoreVersion,
		Accounts:        []*Account{},
		LastIndexByHost: map[string]int{},
	}
}

// normalize repairs nil collections after decoding so callers never see a
// nil map or slice.
func (s *AccountStore) normalize() {
	if s.Accounts == nil {
		s.Accounts = []*Account{}
	}
	if s.LastIndexByHost == nil {
		s.LastIndexByHost = map[string]int{}
	}
}

// valid reports whether a decoded document is usable: the schema version
// must match and every account needs its identity fields.
func (s *AccountStore) valid() bool {
	if s.Version != StoreVersion {
		return false
	}
	for _, a := range s.Accounts {
		if a == nil || a.ID == "" || a.Host == "" {
			return false
		}
	}
	return true
}

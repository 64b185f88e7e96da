package biz

import (
	"context"
	"sync"
	"time"

	"CopilotLane/internal/conf"
	"CopilotLane/internal/data"
	pkgerrors "CopilotLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// AuthInfo is the credential shape produced by an external auth provider
// (the host application's built-in single-account auth). Only OAuth values
// are accepted by the registry.
type AuthInfo struct {
	Access        string
	Refresh       string
	Expires       int64
	Host          string
	BaseURL       string
	Type          string
	EnterpriseURL string
}

// AuthFunc resolves the external auth provider's current credential, or nil
// when it has none.
type AuthFunc func(ctx context.Context) (*AuthInfo, error)

// AccountInput carries the caller-supplied fields of a new account.
// Enabled defaults to true when nil.
type AccountInput struct {
	Label   string
	Host    string
	Refresh string
	Access  string
	Expires int64
	Models  []string
	Enabled *bool
}

// AccountSelection is the transient result of a selection: a checked-out
// copy of the chosen account, its position within the eligible subset, and
// the reason the strategy picked it. Mutations made to the copy must be
// written back through the registry by id.
type AccountSelection struct {
	Account *data.Account
	Index   int
	Reason  string
}

// Registry owns the authoritative in-memory account list and every health
// and configuration mutation. All access goes through one mutex; every
// mutation is durably persisted before the call returns (a no-op for the
// ephemeral store). Selection itself never persists: the rotation cursors
// are advisory and may reset on restart without correctness loss.
type Registry struct {
	conf         *conf.Pool
	repo         data.StoreRepo
	availability *ModelAvailabilityCache
	notifier     UsageNotifier
	logger       *log.Helper

	mu              sync.Mutex
	accounts        []*data.Account
	lastIndex       int
	lastIndexByHost map[string]int
	lastSelectedID  string
	storeExisted    bool
	seeded          bool
}

// NewRegistry creates the registry and loads the persisted pool.
func NewRegistry(c *conf.Pool, repo data.StoreRepo, availability *ModelAvailabilityCache, notifier UsageNotifier, logger log.Logger) *Registry {
	r := &Registry{
		conf:            c,
		repo:            repo,
		availability:    availability,
		notifier:        notifier,
		logger:          log.NewHelper(logger),
		lastIndexByHost: map[string]int{},
	}

	store, existed := repo.Load(context.Background())
	r.accounts = store.Accounts
	r.lastIndex = store.LastIndex
	r.lastIndexByHost = store.LastIndexByHost
	r.storeExisted = existed

	r.logger.Infow("msg", "account registry loaded",
		"accounts", len(r.accounts),
		"strategy", c.Strategy,
		"store_existed", existed)

	return r
}

// persistLocked rewrites the full store. Callers must hold r.mu.
func (r *Registry) persistLocked(ctx context.Context) error {
	store := &data.AccountStore{
		Version:         data.StoreVersion,
		Accounts:        r.accounts,
		LastIndex:       r.lastIndex,
		LastIndexByHost: r.lastIndexByHost,
	}
	if err := r.repo.Save(ctx, store); err != nil {
		r.logger.Errorw("msg", "failed to persist account store", "error", err.Error())
		return pkgerrors.PersistenceFailure(err)
	}
	r.storeExisted = true
	return nil
}

// findLocked returns the account with the given id, or nil.
func (r *Registry) findLocked(id string) *data.Account {
	for _, a := range r.accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// AddAccount assigns a fresh id, appends the account and persists.
// No duplicate detection happens here; callers that want dedup must check
// ListAccounts first by matching (host, refresh token).
func (r *Registry) AddAccount(ctx context.Context, in AccountInput) (*data.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	account := &data.Account{
		ID:       data.NewAccountID(),
		Label:    in.Label,
		Host:     in.Host,
		Refresh:  in.Refresh,
		Access:   in.Access,
		Expires:  in.Expires,
		Enabled:  enabled,
		Models:   append([]string(nil), in.Models...),
		LastUsed: time.Now().UnixMilli(),
	}
	r.accounts = append(r.accounts, account)

	if err := r.persistLocked(ctx); err != nil {
		return nil, err
	}

	r.logger.Infow("msg", "account added", "label", account.Label, "host", account.Host)
	return account.Clone(), nil
}

// SeedFromAuth imports a single credential from the external auth provider
// when the registry is empty and no prior store existed. It runs at most
// once per process lifetime per store; every other call is a no-op.
func (r *Registry) SeedFromAuth(ctx context.Context, getAuth AuthFunc) error {
	r.mu.Lock()
	if r.seeded || len(r.accounts) > 0 || r.storeExisted {
		r.mu.Unlock()
		return nil
	}
	r.seeded = true
	r.mu.Unlock()

	auth, err := getAuth(ctx)
	if err != nil || auth == nil || auth.Type != "oauth" {
		return nil
	}

	// Seeded credentials default to the public host unless the provider
	// names an enterprise instance.
	host := "github.com"
	if auth.EnterpriseURL != "" {
		host = auth.EnterpriseURL
	}

	_, err = r.AddAccount(ctx, AccountInput{
		Label:   host,
		Host:    host,
		Refresh: auth.Refresh,
		Access:  auth.Access,
		Expires: auth.Expires,
	})
	return err
}

// ActiveAuth reports the provider's credential back to the host application
// when at least one account is enabled, filling in the enterprise base URL.
func (r *Registry) ActiveAuth(ctx context.Context, getAuth AuthFunc) (*AuthInfo, error) {
	r.mu.Lock()
	hasEnabled := false
	for _, a := range r.accounts {
		if a.Enabled {
			hasEnabled = true
			break
		}
	}
	r.mu.Unlock()
	if !hasEnabled {
		return nil, nil
	}

	auth, err := getAuth(ctx)
	if err != nil {
		return nil, err
	}
	if auth == nil || auth.Type != "oauth" {
		return nil, nil
	}

	out := *auth
	if auth.EnterpriseURL != "" {
		out.Host = auth.EnterpriseURL
		out.BaseURL = "https://copilot-api." + auth.EnterpriseURL
	}
	return &out, nil
}

// ListAccounts returns a snapshot of the pool in stored order.
func (r *Registry) ListAccounts() []*data.Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*data.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, a.Clone())
	}
	return out
}

// FindByCredential returns the account matching (host, refresh token), used
// by the device flow to dedup re-logins. Nil when absent.
func (r *Registry) FindByCredential(host, refresh string) *data.Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.Host == host && a.Refresh == refresh {
			return a.Clone()
		}
	}
	return nil
}

// EnableAccount marks the account enabled. No-op for unknown ids.
func (r *Registry) EnableAccount(ctx context.Context, id string) error {
	return r.setEnabled(ctx, id, true)
}

// DisableAccount removes the account from selection without deleting it.
// No-op for unknown ids.
func (r *Registry) DisableAccount(ctx context.Context, id string) error {
	return r.setEnabled(ctx, id, false)
}

func (r *Registry) setEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.findLocked(id)
	if account == nil {
		return nil
	}
	account.Enabled = enabled

	if err := r.persistLocked(ctx); err != nil {
		return err
	}
	r.logger.Infow("msg", "account toggled", "label", account.Label, "enabled", enabled)
	return nil
}

// RemoveAccount deletes the account and clears the last-selected pointer if
// it referenced this id. No-op for unknown ids.
func (r *Registry) RemoveAccount(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, a := range r.accounts {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	removed := r.accounts[idx]
	r.accounts = append(r.accounts[:idx], r.accounts[idx+1:]...)
	if r.lastSelectedID == id {
		r.lastSelectedID = ""
	}
	r.availability.Remove(removed)

	if err := r.persistLocked(ctx); err != nil {
		return err
	}
	r.logger.Infow("msg", "account removed", "label", removed.Label, "host", removed.Host)
	return nil
}

// UpdateAccountModels replaces the static allow-list and seeds the
// availability cache with the same list, resetting its TTL.
func (r *Registry) UpdateAccountModels(ctx context.Context, id string, models []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.findLocked(id)
	if account == nil {
		return nil
	}
	account.Models = append([]string(nil), models...)
	r.availability.Set(account, models)

	return r.persistLocked(ctx)
}

// MarkModelUnsupported removes the model from both the static allow-list and
// the cache entry (if any) for the account. Used when the upstream reports
// "model not found" for this credential.
func (r *Registry) MarkModelUnsupported(ctx context.Context, id, model string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.findLocked(id)
	if account == nil {
		return nil
	}

	filtered := make([]string, 0, len(account.Models))
	for _, m := range account.Models {
		if m != model {
			filtered = append(filtered, m)
		}
	}
	account.Models = filtered
	r.availability.MarkUnsupported(account, model)

	if err := r.persistLocked(ctx); err != nil {
		return err
	}
	r.logger.Warnw("msg", "model marked unsupported for account",
		"label", account.Label, "model", model)
	return nil
}

// MarkFailure increments the failure streak and puts the account on
// cooldown. It never disables the account.
func (r *Registry) MarkFailure(ctx context.Context, id string, cooldown time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.findLocked(id)
	if account == nil {
		return nil
	}
	account.ConsecutiveFailures++
	account.CooldownUntil = time.Now().Add(cooldown).UnixMilli()

	if err := r.persistLocked(ctx); err != nil {
		return err
	}
	r.logger.Warnw("msg", "account failure recorded",
		"label", account.Label,
		"consecutive_failures", account.ConsecutiveFailures,
		"cooldown", cooldown.String())
	return nil
}

// MarkSuccess resets the failure streak, clears the cooldown and stamps
// lastUsed.
func (r *Registry) MarkSuccess(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.findLocked(id)
	if account == nil {
		return nil
	}
	account.ConsecutiveFailures = 0
	account.CooldownUntil = 0
	account.LastUsed = time.Now().UnixMilli()

	return r.persistLocked(ctx)
}

// UpdateAccountTokens overwrites the token fields after a refresh exchange.
func (r *Registry) UpdateAccountTokens(ctx context.Context, id, access, refresh string, expires int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.findLocked(id)
	if account == nil {
		return nil
	}
	account.Access = access
	account.Refresh = refresh
	account.Expires = expires

	if err := r.persistLocked(ctx); err != nil {
		return err
	}
	r.logger.Infow("msg", "account tokens updated", "label", account.Label)
	return nil
}

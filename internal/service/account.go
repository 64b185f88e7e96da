// Package service exposes the account pool over the management HTTP
// surface. Every token leaving this layer is masked.
package service

import (
	"context"
	"time"

	"CopilotLane/internal/biz"
	"CopilotLane/internal/data"
	pkglog "CopilotLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewAccountService, NewLoginService)

// AccountView is the wire representation of an account. Tokens are masked;
// the raw credentials never leave the process through this surface.
type AccountView struct {
	ID                  string   `json:"id"`
	Label               string   `json:"label"`
	Host                string   `json:"host"`
	Access              string   `json:"access,omitempty"`
	Refresh             string   `json:"refresh,omitempty"`
	Expires             int64    `json:"expires,omitempty"`
	Enabled             bool     `json:"enabled"`
	Models              []string `json:"models,omitempty"`
	LastUsed            int64    `json:"lastUsed,omitempty"`
	CooldownUntil       int64    `json:"cooldownUntil,omitempty"`
	ConsecutiveFailures int32    `json:"consecutiveFailures,omitempty"`
	Cooling             bool     `json:"cooling"`
}

// AddAccountRequest carries a manually supplied credential.
type AddAccountRequest struct {
	Label   string   `json:"label"`
	Host    string   `json:"host"`
	Refresh string   `json:"refresh"`
	Access  string   `json:"access"`
	Expires int64    `json:"expires"`
	Models  []string `json:"models"`
	Enabled *bool    `json:"enabled"`
}

// UpdateModelsRequest replaces an account's model allow-list.
type UpdateModelsRequest struct {
	Models []string `json:"models"`
}

// ListAccountsResponse wraps the pool listing.
type ListAccountsResponse struct {
	Accounts []*AccountView `json:"accounts"`
}

// AccountService implements the account management operations.
type AccountService struct {
	registry *biz.Registry
	logger   *log.Helper
}

// NewAccountService creates the account management service.
func NewAccountService(registry *biz.Registry, logger log.Logger) *AccountService {
	return &AccountService{
		registry: registry,
		logger:   log.NewHelper(logger),
	}
}

func viewAccount(a *data.Account) *AccountView {
	return &AccountView{
		ID:                  a.ID,
		Label:               a.Label,
		Host:                a.Host,
		Access:              pkglog.MaskToken(a.Access),
		Refresh:             pkglog.MaskToken(a.Refresh),
		Expires:             a.Expires,
		Enabled:             a.Enabled,
		Models:              a.Models,
		LastUsed:            a.LastUsed,
		CooldownUntil:       a.CooldownUntil,
		ConsecutiveFailures: a.ConsecutiveFailures,
		Cooling:             a.Cooling(time.Now()),
	}
}

// ListAccounts returns the pool with masked tokens.
func (s *AccountService) ListAccounts(_ context.Context) *ListAccountsResponse {
	accounts := s.registry.ListAccounts()
	views := make([]*AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, viewAccount(a))
	}
	return &ListAccountsResponse{Accounts: views}
}

// AddAccount stores a manually supplied credential, deduplicating on
// (host, refresh token) by updating the existing account instead.
func (s *AccountService) AddAccount(ctx context.Context, req *AddAccountRequest) (*AccountView, error) {
	if existing := s.registry.FindByCredential(req.Host, req.Refresh); existing != nil {
		if err := s.registry.UpdateAccountTokens(ctx, existing.ID, req.Access, req.Refresh, req.Expires); err != nil {
			return nil, err
		}
		s.logger.Infow("msg", "existing account tokens updated", "label", existing.Label)
		existing.Access = req.Access
		existing.Expires = req.Expires
		return viewAccount(existing), nil
	}

	account, err := s.registry.AddAccount(ctx, biz.AccountInput{
		Label:   req.Label,
		Host:    req.Host,
		Refresh: req.Refresh,
		Access:  req.Access,
		Expires: req.Expires,
		Models:  req.Models,
		Enabled: req.Enabled,
	})
	if err != nil {
		return nil, err
	}
	return viewAccount(account), nil
}

// EnableAccount marks the account selectable again.
func (s *AccountService) EnableAccount(ctx context.Context, id string) error {
	return s.registry.EnableAccount(ctx, id)
}

// DisableAccount removes the account from selection without deleting it.
func (s *AccountService) DisableAccount(ctx context.Context, id string) error {
	return s.registry.DisableAccount(ctx, id)
}

// RemoveAccount deletes the account.
func (s *AccountService) RemoveAccount(ctx context.Context, id string) error {
	return s.registry.RemoveAccount(ctx, id)
}

// UpdateModels replaces the account's model allow-list.
func (s *AccountService) UpdateModels(ctx context.Context, id string, req *UpdateModelsRequest) error {
	return s.registry.UpdateAccountModels(ctx, id, req.Models)
}

package biz

import (
	"context"
	"time"

	"CopilotLane/internal/conf"
	"CopilotLane/internal/data"
)

// effectiveModelsLocked resolves the model list that gates selection: the
// unexpired cache entry when present, otherwise the static allow-list.
// Callers must hold r.mu.
func (r *Registry) effectiveModelsLocked(account *data.Account) []string {
	if cached, ok := r.availability.Get(account); ok {
		return cached
	}
	return account.Models
}

// qualifiesLocked reports whether the account is eligible for the host and
// qualified for the model. Callers must hold r.mu.
func (r *Registry) qualifiesLocked(account *data.Account, model, host string, now time.Time) bool {
	if !account.Enabled || account.Host != host || account.Cooling(now) {
		return false
	}
	models := r.effectiveModelsLocked(account)
	if len(models) == 0 {
		return true
	}
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}

// SelectAccount picks the credential that should serve a request for model
// on host, or nil when the eligible+qualified subset is empty. The returned
// account is a checked-out copy; health updates go back through the registry
// by id.
func (r *Registry) SelectAccount(model, host string) *AccountSelection {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	eligible := make([]*data.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if r.qualifiesLocked(a, model, host, now) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	switch r.conf.Strategy {
	case conf.StrategyRoundRobin:
		index := r.lastIndex % len(eligible)
		account := eligible[index]
		r.lastIndex = (r.lastIndex + 1) % len(eligible)
		r.lastIndexByHost[host] = r.lastIndex
		r.lastSelectedID = account.ID
		return &AccountSelection{Account: account.Clone(), Index: index, Reason: ReasonRoundRobin}

	case conf.StrategyHybrid:
		// Failure streaks dominate; among equals the account used longest
		// ago wins. Ties keep stored order.
		best := 0
		bestScore := hybridScore(eligible[0])
		for i := 1; i < len(eligible); i++ {
			if score := hybridScore(eligible[i]); score > bestScore {
				best, bestScore = i, score
			}
		}
		account := eligible[best]
		r.lastSelectedID = account.ID
		return &AccountSelection{Account: account.Clone(), Index: best, Reason: ReasonHybrid}

	default:
		account := eligible[0]
		r.lastSelectedID = account.ID
		return &AccountSelection{Account: account.Clone(), Index: 0, Reason: ReasonSticky}
	}
}

func hybridScore(a *data.Account) int64 {
	return int64(a.ConsecutiveFailures)*-10 - a.LastUsed
}

// Qualifies reports whether the identified account currently passes the
// eligibility and model-qualification check. The request router uses this to
// validate sticky locks before reusing a pinned account.
func (r *Registry) Qualifies(id, model, host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.findLocked(id)
	if account == nil {
		return false
	}
	return r.qualifiesLocked(account, model, host, time.Now())
}

// ReuseAccount checks out the identified account for sticky affinity reuse,
// or nil when it no longer passes the eligibility and qualification check.
func (r *Registry) ReuseAccount(id, model, host string) *AccountSelection {
	r.mu.Lock()
	defer r.mu.Unlock()

	account := r.findLocked(id)
	if account == nil || !r.qualifiesLocked(account, model, host, time.Now()) {
		return nil
	}
	r.lastSelectedID = account.ID
	return &AccountSelection{Account: account.Clone(), Index: 0, Reason: ReasonSticky}
}

// NotifySelection reports a selection to the UsageNotifier. Notifier
// failures never abort the request path.
func (r *Registry) NotifySelection(ctx context.Context, sel *AccountSelection, model string) {
	if sel == nil {
		return
	}
	if err := r.notifier.AccountSelected(ctx, sel.Account, model, sel.Reason); err != nil {
		r.logger.Debugw("msg", "usage notifier failed", "error", err.Error())
	}
}

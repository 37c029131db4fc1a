package governance

import (
	"context"
	"errors"

	"github.com/llmops/govern/internal/model"
	"github.com/llmops/govern/internal/repository"
)

// ScopeLevel names one tier of the governance chain.
type ScopeLevel string

const (
	ScopeVirtualKey ScopeLevel = "virtual_key"
	ScopeTeam       ScopeLevel = "team"
	ScopeCustomer   ScopeLevel = "customer"
)

// Scope is one budget to enforce, in chain order.
type Scope struct {
	Level    ScopeLevel
	BudgetID string
}

// ResolveScopes walks an attached chain: the key's own budget, then the
// team's, then the customer's. A key under a team inherits the team's
// customer; a key attached directly to a customer has no team tier. Tiers
// without a budget contribute nothing. The returned order is also the lock
// order during admission.
//
// The chain must already be attached; Resolver.Resolve loads missing links
// first.
func ResolveScopes(vk *model.VirtualKey) []Scope {
	var scopes []Scope

	if vk.BudgetID != nil {
		scopes = append(scopes, Scope{Level: ScopeVirtualKey, BudgetID: *vk.BudgetID})
	}

	if vk.Team != nil {
		if vk.Team.BudgetID != nil {
			scopes = append(scopes, Scope{Level: ScopeTeam, BudgetID: *vk.Team.BudgetID})
		}
		if vk.Team.Customer != nil && vk.Team.Customer.BudgetID != nil {
			scopes = append(scopes, Scope{Level: ScopeCustomer, BudgetID: *vk.Team.Customer.BudgetID})
		}
		return scopes
	}

	if vk.Customer != nil && vk.Customer.BudgetID != nil {
		scopes = append(scopes, Scope{Level: ScopeCustomer, BudgetID: *vk.Customer.BudgetID})
	}
	return scopes
}

// Resolver completes a key's governance chain from the database. Cached keys
// carry only one hop of relations, so the team's customer (and any relation
// dropped by the cache round-trip) is loaded on demand.
type Resolver struct {
	teams     repository.TeamsRepository
	customers repository.CustomersRepository
}

func NewResolver(teams repository.TeamsRepository, customers repository.CustomersRepository) *Resolver {
	return &Resolver{teams: teams, customers: customers}
}

// Resolve attaches missing chain links to vk and returns its scopes.
// A dangling team or customer reference resolves to an empty link rather
// than an error; the row may have been deleted with the key not yet updated.
func (r *Resolver) Resolve(ctx context.Context, vk *model.VirtualKey) ([]Scope, error) {
	if vk.TeamID != nil && vk.Team == nil {
		t, err := r.teams.Get(ctx, *vk.TeamID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		vk.Team = t
	}
	if vk.Team != nil && vk.Team.CustomerID != nil && vk.Team.Customer == nil {
		c, err := r.customers.Get(ctx, *vk.Team.CustomerID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		vk.Team.Customer = c
	}
	if vk.TeamID == nil && vk.CustomerID != nil && vk.Customer == nil {
		c, err := r.customers.Get(ctx, *vk.CustomerID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
		vk.Customer = c
	}
	return ResolveScopes(vk), nil
}

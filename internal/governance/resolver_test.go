package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmops/govern/internal/model"
)

func strptr(s string) *string { return &s }

func TestResolveScopesFullChain(t *testing.T) {
	vk := &model.VirtualKey{
		ID:       "vk1",
		BudgetID: strptr("b-vk"),
		TeamID:   strptr("t1"),
		Team: &model.Team{
			ID:         "t1",
			BudgetID:   strptr("b-team"),
			CustomerID: strptr("c1"),
			Customer:   &model.Customer{ID: "c1", BudgetID: strptr("b-cust")},
		},
	}

	scopes := ResolveScopes(vk)
	assert.Equal(t, []Scope{
		{Level: ScopeVirtualKey, BudgetID: "b-vk"},
		{Level: ScopeTeam, BudgetID: "b-team"},
		{Level: ScopeCustomer, BudgetID: "b-cust"},
	}, scopes)
}

func TestResolveScopesSkipsBudgetlessTiers(t *testing.T) {
	vk := &model.VirtualKey{
		ID:     "vk1",
		TeamID: strptr("t1"),
		Team: &model.Team{
			ID:         "t1",
			CustomerID: strptr("c1"),
			Customer:   &model.Customer{ID: "c1", BudgetID: strptr("b-cust")},
		},
	}

	scopes := ResolveScopes(vk)
	assert.Equal(t, []Scope{{Level: ScopeCustomer, BudgetID: "b-cust"}}, scopes)
}

func TestResolveScopesCustomerDirect(t *testing.T) {
	vk := &model.VirtualKey{
		ID:         "vk1",
		BudgetID:   strptr("b-vk"),
		CustomerID: strptr("c1"),
		Customer:   &model.Customer{ID: "c1", BudgetID: strptr("b-cust")},
	}

	scopes := ResolveScopes(vk)
	assert.Equal(t, []Scope{
		{Level: ScopeVirtualKey, BudgetID: "b-vk"},
		{Level: ScopeCustomer, BudgetID: "b-cust"},
	}, scopes)
}

func TestResolveScopesUngoverned(t *testing.T) {
	assert.Empty(t, ResolveScopes(&model.VirtualKey{ID: "vk1"}))
}

func TestResolveScopesTeamWithoutCustomer(t *testing.T) {
	vk := &model.VirtualKey{
		ID:     "vk1",
		TeamID: strptr("t1"),
		Team:   &model.Team{ID: "t1", BudgetID: strptr("b-team")},
	}

	scopes := ResolveScopes(vk)
	assert.Equal(t, []Scope{{Level: ScopeTeam, BudgetID: "b-team"}}, scopes)
}

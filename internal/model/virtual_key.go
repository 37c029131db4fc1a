package model

import "time"

// VirtualKey is the caller credential. TeamID and CustomerID are mutually
// exclusive: a key is governed through exactly one chain.
type VirtualKey struct {
	ID               string     `db:"id"                json:"id"`
	Name             string     `db:"name"              json:"name"`
	Value            string     `db:"value"             json:"value"`
	Description      string     `db:"description"       json:"description"`
	IsActive         bool       `db:"is_active"         json:"is_active"`
	AllowedModels    StringList `db:"allowed_models"    json:"allowed_models"`
	AllowedProviders StringList `db:"allowed_providers" json:"allowed_providers"`
	TeamID           *string    `db:"team_id"           json:"team_id"`
	CustomerID       *string    `db:"customer_id"       json:"customer_id"`
	BudgetID         *string    `db:"budget_id"         json:"budget_id"`
	RateLimitID      *string    `db:"rate_limit_id"     json:"rate_limit_id"`
	CreatedAt        time.Time  `db:"created_at"        json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"        json:"updated_at"`

	// Preloaded one hop on reads.
	Team      *Team      `db:"-" json:"team"`
	Customer  *Customer  `db:"-" json:"customer"`
	Budget    *Budget    `db:"-" json:"budget"`
	RateLimit *RateLimit `db:"-" json:"rate_limit"`
}

// ModelAllowed reports whether the key admits the given model.
func (vk *VirtualKey) ModelAllowed(model string) bool {
	return vk.AllowedModels.Contains(model)
}

// ProviderAllowed reports whether the key admits the given provider.
func (vk *VirtualKey) ProviderAllowed(provider string) bool {
	return vk.AllowedProviders.Contains(provider)
}

package model

import "time"

// Team is the middle tier. A team may exist without a customer.
type Team struct {
	ID         string    `db:"id"          json:"id"`
	Name       string    `db:"name"        json:"name"`
	CustomerID *string   `db:"customer_id" json:"customer_id"`
	BudgetID   *string   `db:"budget_id"   json:"budget_id"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`

	// Preloaded one hop; the customer comes without its nested teams.
	Customer *Customer `db:"-" json:"customer"`
	Budget   *Budget   `db:"-" json:"budget"`
}

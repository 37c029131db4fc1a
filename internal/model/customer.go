package model

import "time"

// Customer is the top tier of the governance hierarchy.
type Customer struct {
	ID        string    `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	BudgetID  *string   `db:"budget_id"  json:"budget_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// Preloaded one hop on reads; teams come without their own relations.
	Budget *Budget `db:"-" json:"budget"`
	Teams  []Team  `db:"-" json:"teams"`
}

package model

import "time"

// UsageCounter aggregates consumption per virtual key, provider, and model.
type UsageCounter struct {
	VirtualKeyID string    `db:"virtual_key_id" json:"virtual_key_id"`
	Provider     string    `db:"provider"       json:"provider"`
	Model        string    `db:"model"          json:"model"`
	Requests     int64     `db:"requests"       json:"requests"`
	Tokens       int64     `db:"tokens"         json:"tokens"`
	Cost         int64     `db:"cost"           json:"cost"`
	UpdatedAt    time.Time `db:"updated_at"     json:"updated_at"`
}

// UsageEvent is one completed request, archived in ClickHouse and published
// to Kafka for downstream consumers.
type UsageEvent struct {
	ID           string    `db:"id"             json:"id"`
	VirtualKeyID string    `db:"virtual_key_id" json:"virtual_key_id"`
	Provider     string    `db:"provider"       json:"provider"`
	Model        string    `db:"model"          json:"model"`
	Tokens       int64     `db:"tokens"         json:"tokens"`
	Cost         int64     `db:"cost"           json:"cost"`
	Success      bool      `db:"success"        json:"success"`
	CreatedAt    time.Time `db:"created_at"     json:"created_at"`
}

package model

import "time"

// Budget caps spend for exactly one owner (customer, team, or virtual key).
// Amounts are integers in the smallest currency unit.
type Budget struct {
	ID            string    `db:"id"             json:"id"`
	MaxLimit      int64     `db:"max_limit"      json:"max_limit"`
	ResetDuration string    `db:"reset_duration" json:"reset_duration"`
	CurrentUsage  int64     `db:"current_usage"  json:"current_usage"`
	LastReset     time.Time `db:"last_reset"     json:"last_reset"`
	CreatedAt     time.Time `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"     json:"updated_at"`
}

// WindowExpired reports whether the reset window has elapsed at now.
// An unparseable duration never expires; creation validates the format.
func (b *Budget) WindowExpired(now time.Time) bool {
	d, err := ParseResetDuration(b.ResetDuration)
	if err != nil {
		return false
	}
	return now.Sub(b.LastReset) >= d
}

// ResetIfExpired zeroes usage and refreshes last_reset when the window has
// elapsed. Returns true when a reset happened.
func (b *Budget) ResetIfExpired(now time.Time) bool {
	if !b.WindowExpired(now) {
		return false
	}
	b.CurrentUsage = 0
	b.LastReset = now
	return true
}

// Allows reports whether spending cost on top of current usage stays within
// the limit. A zero max_limit admits only zero-cost requests.
func (b *Budget) Allows(cost int64) bool {
	return b.CurrentUsage+cost <= b.MaxLimit
}

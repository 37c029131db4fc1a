package model

import "time"

// RateLimit tracks token and request usage for a virtual key. The two pairs
// are independent: either may be unset, and each resets on its own window.
type RateLimit struct {
	ID string `db:"id" json:"id"`

	TokenMaxLimit      *int64    `db:"token_max_limit"      json:"token_max_limit"`
	TokenResetDuration *string   `db:"token_reset_duration" json:"token_reset_duration"`
	TokenCurrentUsage  int64     `db:"token_current_usage"  json:"token_current_usage"`
	TokenLastReset     time.Time `db:"token_last_reset"     json:"token_last_reset"`

	RequestMaxLimit      *int64    `db:"request_max_limit"      json:"request_max_limit"`
	RequestResetDuration *string   `db:"request_reset_duration" json:"request_reset_duration"`
	RequestCurrentUsage  int64     `db:"request_current_usage"  json:"request_current_usage"`
	RequestLastReset     time.Time `db:"request_last_reset"     json:"request_last_reset"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func windowExpired(duration *string, lastReset, now time.Time) bool {
	if duration == nil {
		return false
	}
	d, err := ParseResetDuration(*duration)
	if err != nil {
		return false
	}
	return now.Sub(lastReset) >= d
}

// TokenWindowExpired reports whether the token window has elapsed at now.
func (r *RateLimit) TokenWindowExpired(now time.Time) bool {
	return windowExpired(r.TokenResetDuration, r.TokenLastReset, now)
}

// RequestWindowExpired reports whether the request window has elapsed at now.
func (r *RateLimit) RequestWindowExpired(now time.Time) bool {
	return windowExpired(r.RequestResetDuration, r.RequestLastReset, now)
}

// ResetExpiredWindows zeroes whichever counters have an elapsed window.
// Returns true when anything changed.
func (r *RateLimit) ResetExpiredWindows(now time.Time) bool {
	changed := false
	if windowExpired(r.TokenResetDuration, r.TokenLastReset, now) {
		r.TokenCurrentUsage = 0
		r.TokenLastReset = now
		changed = true
	}
	if windowExpired(r.RequestResetDuration, r.RequestLastReset, now) {
		r.RequestCurrentUsage = 0
		r.RequestLastReset = now
		changed = true
	}
	return changed
}

// AllowsTokens reports whether consuming tokens stays within the token pair.
// An unset pair never limits.
func (r *RateLimit) AllowsTokens(tokens int64) bool {
	if r.TokenMaxLimit == nil {
		return true
	}
	return r.TokenCurrentUsage+tokens <= *r.TokenMaxLimit
}

// AllowsRequest reports whether one more request stays within the request pair.
func (r *RateLimit) AllowsRequest() bool {
	if r.RequestMaxLimit == nil {
		return true
	}
	return r.RequestCurrentUsage+1 <= *r.RequestMaxLimit
}

package util

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string, used as the primary key for all
// governance entities. Monotonic entropy keeps concurrent ids unique.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.Reader, 0)

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewSecret generates the opaque bearer value for a virtual key.
func NewSecret() string {
	return uuid.NewString()
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResetDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1s", time.Second},
		{"30s", 30 * time.Second},
		{"1m", time.Minute},
		{"1h", time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"1M", 30 * 24 * time.Hour},
		{"3M", 90 * 24 * time.Hour},
		{"6M", 180 * 24 * time.Hour},
		{"1Y", 365 * 24 * time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseResetDuration(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseResetDuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "5x", "-5m", "0s", "M", "1.5q"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseResetDuration(in)
			assert.Error(t, err)
		})
	}
}

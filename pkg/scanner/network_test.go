package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   []string
	}{
		{"slash 30 drops network and broadcast", "192.168.1.0/30", []string{"192.168.1.1", "192.168.1.2"}},
		{"unmasked prefix", "192.168.1.2/30", []string{"192.168.1.1", "192.168.1.2"}},
		{"slash 31 keeps both", "10.0.0.0/31", []string{"10.0.0.0", "10.0.0.1"}},
		{"slash 32 single host", "10.0.0.7/32", []string{"10.0.0.7"}},
		{"single ip", "10.0.0.9", []string{"10.0.0.9"}},
		{"last octet range", "192.168.1.10-12", []string{"192.168.1.10", "192.168.1.11", "192.168.1.12"}},
		{"ipv6 small prefix", "fd00::/127", []string{"fd00::", "fd00::1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandTarget(tt.target, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandTargetSlash24(t *testing.T) {
	got, err := ExpandTarget("192.168.1.0/24", 0)
	require.NoError(t, err)
	require.Len(t, got, 254)
	assert.Equal(t, "192.168.1.1", got[0])
	assert.Equal(t, "192.168.1.254", got[253])
}

func TestExpandTargetErrors(t *testing.T) {
	for _, target := range []string{"", "not-an-ip", "192.168.1.0/33", "192.168.1.300", "192.168.1.10-5", "192.168.1.1-999", "fd00::1-5"} {
		_, err := ExpandTarget(target, 0)
		assert.ErrorIs(t, err, ErrInvalidTarget, target)
	}

	_, err := ExpandTarget("10.0.0.0/8", 0)
	assert.ErrorIs(t, err, ErrTooManyHosts)

	_, err = ExpandTarget("10.0.0.0/24", 100)
	assert.ErrorIs(t, err, ErrTooManyHosts)

	_, err = ExpandTarget("fd00::/64", 0)
	assert.ErrorIs(t, err, ErrTooManyHosts)
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		network  Network
		address  string
		expected string
	}{
		{"evm lower-cased", EthMainnet, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", "0x9858effd232b4033e47d90003d41ec34ecaeda94"},
		{"nano unchanged", NanoMainnet, "nano_1abc", "nano_1abc"},
		{"legacy nano prefix", NanoMainnet, "xrb_1abc", "nano_1abc"},
		{"bitcoin unchanged", BtcMainnet, "bc1qXYZ", "bc1qXYZ"},
		{"xrb only rewritten on nano", BtcMainnet, "xrb_1abc", "xrb_1abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAddress(tt.network, tt.address))
		})
	}
}

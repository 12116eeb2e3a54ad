package validation

import (
	"testing"

	"polywallet/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		network models.Network
		address string
		wantErr bool
	}{
		{"nano", models.NanoMainnet, "nano_3i1aq1cchnmbn9x5rsbap8b15akfh7wj7pwskuzi7ahz8oq6cobd99d4r3b7", false},
		{"nano legacy prefix", models.NanoMainnet, "xrb_3i1aq1cchnmbn9x5rsbap8b15akfh7wj7pwskuzi7ahz8oq6cobd99d4r3b7", false},
		{"nano bad checksum", models.NanoMainnet, "nano_3i1aq1cchnmbn9x5rsbap8b15akfh7wj7pwskuzi7ahz8oq6cobd99d4r3b8", true},
		{"ethereum checksum", models.EthMainnet, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", false},
		{"ethereum lower", models.PolygonAmoy, "0x9858effd232b4033e47d90003d41ec34ecaeda94", false},
		{"ethereum short", models.EthMainnet, "0x9858effd232b4033e47d90003d41ec34ecaeda", true},
		{"ethereum no prefix", models.EthMainnet, "9858effd232b4033e47d90003d41ec34ecaeda94", true},
		{"bitcoin segwit", models.BtcMainnet, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", false},
		{"bitcoin legacy", models.BtcMainnet, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", false},
		{"bitcoin wrong net", models.BtcTestnet4, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", true},
		{"bitcoin garbage", models.BtcMainnet, "bc1qnotanaddress", true},
		{"empty", models.NanoMainnet, "", true},
		{"unknown network", models.Network("solana"), "So11111111111111111111111111111111111111112", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.network, tt.address)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(models.EthMainnet, decimal.RequireFromString("0.000000000000000001")))
	assert.NoError(t, ValidateAmount(models.NanoMainnet, decimal.NewFromInt(1_000_000)))
	assert.Error(t, ValidateAmount(models.EthMainnet, decimal.RequireFromString("0.0000000000000000001")))
	assert.Error(t, ValidateAmount(models.BtcMainnet, decimal.Zero))
	assert.Error(t, ValidateAmount(models.BtcMainnet, decimal.NewFromInt(-1)))
}

func TestValidateTxHash(t *testing.T) {
	hash := "5A4BF6970980A9381E6D6C78D96AB278035BBFF58C383FFE96A0A2BBC7C02A4B"

	assert.NoError(t, ValidateTxHash(models.NanoMainnet, hash))
	assert.NoError(t, ValidateTxHash(models.BtcMainnet, hash))
	assert.NoError(t, ValidateTxHash(models.EthMainnet, "0x"+hash))
	assert.Error(t, ValidateTxHash(models.EthMainnet, hash))
	assert.Error(t, ValidateTxHash(models.NanoMainnet, hash[:63]))
	assert.Error(t, ValidateTxHash(models.NanoMainnet, ""))
}

func TestValidateWalletID(t *testing.T) {
	assert.NoError(t, ValidateWalletID("5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc1"))
	assert.Error(t, ValidateWalletID("5EB00BBDDCF069084889A8AB9155568165F5C453CCB85E70811AAED6F6DA5FC1"))
	assert.Error(t, ValidateWalletID("user-1"))
}

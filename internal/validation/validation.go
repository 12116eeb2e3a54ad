// Package validation checks user supplied addresses, amounts and ids before
// anything reaches a chain client.
package validation

import (
	"regexp"

	"polywallet/internal/keys"
	"polywallet/internal/models"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	hex64Regex     = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	ethereumTxHash = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	ethereumRegex  = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	walletIDRegex  = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

// ValidateAddress validates the address format of network.
func ValidateAddress(network models.Network, address string) error {
	if address == "" {
		return models.NewValidationError("address cannot be empty")
	}

	switch network.Protocol() {
	case models.Nano:
		if _, err := keys.DecodeNanoAddress(address); err != nil {
			return models.NewValidationError("invalid Nano address %s: %v", address, err)
		}
	case models.Ethereum:
		if !ethereumRegex.MatchString(address) || !common.IsHexAddress(address) {
			return models.NewValidationError("invalid Ethereum address format: %s", address)
		}
	case models.Bitcoin:
		return validateBitcoinAddress(network, address)
	default:
		return models.NewValidationError("unknown network %s", network)
	}
	return nil
}

// validateBitcoinAddress accepts any address of the network's chain params.
func validateBitcoinAddress(network models.Network, address string) error {
	info, _ := network.Info()
	params := keys.BitcoinParams(info.Testnet)
	decoded, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return models.NewValidationError("invalid Bitcoin address %s: %v", address, err)
	}
	if !decoded.IsForNet(params) {
		return models.NewValidationError("bitcoin address %s is not for %s", address, network)
	}
	return nil
}

// ValidateAmount validates amount is positive and representable in the
// network's smallest unit.
func ValidateAmount(network models.Network, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return models.NewValidationError("amount must be positive, got %s", amount)
	}
	smallest := network.Smallest()
	if amount.LessThan(smallest) {
		return models.NewValidationError("amount %s is below the smallest unit %s", amount, smallest)
	}
	return nil
}

// ValidateTxHash validates the transaction or block hash format of network.
func ValidateTxHash(network models.Network, txHash string) error {
	if txHash == "" {
		return models.NewValidationError("transaction hash cannot be empty")
	}

	switch network.Protocol() {
	case models.Nano:
		if !hex64Regex.MatchString(txHash) {
			return models.NewValidationError("invalid Nano block hash")
		}
	case models.Bitcoin:
		if !hex64Regex.MatchString(txHash) {
			return models.NewValidationError("invalid Bitcoin transaction hash")
		}
	case models.Ethereum:
		if !ethereumTxHash.MatchString(txHash) {
			return models.NewValidationError("invalid Ethereum transaction hash")
		}
	default:
		return models.NewValidationError("unknown network %s", network)
	}
	return nil
}

// ValidateWalletID checks the lower-case hex sha256 form of wallet ids.
func ValidateWalletID(id string) error {
	if !walletIDRegex.MatchString(id) {
		return models.NewValidationError("invalid wallet id")
	}
	return nil
}

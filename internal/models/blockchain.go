package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

type Protocol string

const (
	Nano     Protocol = "nano"
	Ethereum Protocol = "ethereum"
	Bitcoin  Protocol = "bitcoin"
)

func (p Protocol) String() string {
	return string(p)
}

type Network string

const (
	NanoMainnet    Network = "nano-mainnet"
	EthMainnet     Network = "eth-mainnet"
	EthSepolia     Network = "eth-sepolia"
	PolygonMainnet Network = "polygon-mainnet"
	PolygonAmoy    Network = "polygon-amoy"
	BtcMainnet     Network = "btc-mainnet"
	BtcTestnet4    Network = "btc-testnet4"
)

// NetworkInfo holds the static parameters of a network.
type NetworkInfo struct {
	Protocol          Protocol
	Decimals          int32
	FinalityThreshold int
	ChainID           int64
	Testnet           bool
}

var networks = map[Network]NetworkInfo{
	NanoMainnet:    {Protocol: Nano, Decimals: 30, FinalityThreshold: 1},
	EthMainnet:     {Protocol: Ethereum, Decimals: 18, FinalityThreshold: 12, ChainID: 1},
	EthSepolia:     {Protocol: Ethereum, Decimals: 18, FinalityThreshold: 6, ChainID: 11155111, Testnet: true},
	PolygonMainnet: {Protocol: Ethereum, Decimals: 18, FinalityThreshold: 32, ChainID: 137},
	PolygonAmoy:    {Protocol: Ethereum, Decimals: 18, FinalityThreshold: 6, ChainID: 80002, Testnet: true},
	BtcMainnet:     {Protocol: Bitcoin, Decimals: 8, FinalityThreshold: 6},
	BtcTestnet4:    {Protocol: Bitcoin, Decimals: 8, FinalityThreshold: 6, Testnet: true},
}

func (n Network) String() string {
	return string(n)
}

// Info returns the parameters of n. ok is false for unknown networks.
func (n Network) Info() (NetworkInfo, bool) {
	info, ok := networks[n]
	return info, ok
}

func (n Network) Protocol() Protocol {
	return networks[n].Protocol
}

// Smallest returns one minor unit of the network's native asset.
func (n Network) Smallest() decimal.Decimal {
	return decimal.New(1, -networks[n].Decimals)
}

// ParseNetwork resolves a network identifier.
func ParseNetwork(s string) (Network, bool) {
	n := Network(s)
	_, ok := networks[n]
	return n, ok
}

// Networks returns every known network.
func Networks() []Network {
	return []Network{NanoMainnet, EthMainnet, EthSepolia, PolygonMainnet, PolygonAmoy, BtcMainnet, BtcTestnet4}
}

// NormalizeAddress returns the form of address used for lookups. EVM
// addresses are compared case-insensitively and legacy xrb_ Nano accounts
// are keyed under nano_.
func NormalizeAddress(network Network, address string) string {
	switch network.Protocol() {
	case Ethereum:
		return strings.ToLower(address)
	case Nano:
		if rest, ok := strings.CutPrefix(address, "xrb_"); ok {
			return "nano_" + rest
		}
	}
	return address
}

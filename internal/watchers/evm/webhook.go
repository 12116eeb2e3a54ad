package evm

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"polywallet/internal/models"
	"polywallet/internal/watchers"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// alchemyNetworks maps provider network ids to local networks.
var alchemyNetworks = map[string]models.Network{
	"ETH_MAINNET":   models.EthMainnet,
	"ETH_SEPOLIA":   models.EthSepolia,
	"MATIC_MAINNET": models.PolygonMainnet,
	"MATIC_AMOY":    models.PolygonAmoy,
}

// AlchemyNetwork returns the provider id of network.
func AlchemyNetwork(network models.Network) (string, bool) {
	for id, n := range alchemyNetworks {
		if n == network {
			return id, true
		}
	}
	return "", false
}

type Notification struct {
	WebhookID string `json:"webhookId"`
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	Type      string `json:"type"`
	Event     struct {
		Network  string     `json:"network"`
		Activity []Activity `json:"activity"`
	} `json:"event"`
}

type Activity struct {
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	BlockNum    string `json:"blockNum"`
	Hash        string `json:"hash"`
	Asset       string `json:"asset"`
	Category    string `json:"category"`
	RawContract struct {
		RawValue string  `json:"rawValue"`
		Address  *string `json:"address"`
		Decimals *int32  `json:"decimals"`
	} `json:"rawContract"`
}

// Webhook turns address-activity notifications into transfers. Notifications
// for networks without a configured base are acknowledged and dropped.
type Webhook struct {
	bases      map[models.Network]*watchers.Base
	signingKey []byte
}

func NewWebhook(signingKey string, bases ...*watchers.Base) *Webhook {
	w := &Webhook{bases: make(map[models.Network]*watchers.Base, len(bases))}
	if signingKey != "" {
		w.signingKey = []byte(signingKey)
	}
	for _, b := range bases {
		w.bases[b.Network()] = b
	}
	return w
}

// Verify checks the hex HMAC-SHA256 of body. Without a signing key every
// body is accepted.
func (w *Webhook) Verify(body []byte, signature string) bool {
	if w.signingKey == nil {
		return true
	}
	mac := hmac.New(sha256.New, w.signingKey)
	mac.Write(body)
	expected := mac.Sum(nil)
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// Handle records every activity of the notification and returns how many
// had local owners.
func (w *Webhook) Handle(ctx context.Context, body []byte) (int, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return 0, models.NewValidationError("malformed notification: %v", err)
	}

	network, ok := alchemyNetworks[n.Event.Network]
	if !ok {
		return 0, nil
	}
	base, ok := w.bases[network]
	if !ok {
		return 0, nil
	}
	if len(n.Event.Activity) == 0 {
		base.Logger.Debug().Str("webhookId", n.WebhookID).Msg("Notification without activity")
		return 0, nil
	}

	recorded := 0
	for _, a := range n.Event.Activity {
		t, err := toTransfer(network, a)
		if err != nil {
			base.Logger.Warn().Err(err).Str("hash", a.Hash).Msg("Skipping activity")
			continue
		}
		ok, err := base.Emit(ctx, t)
		if err != nil {
			return recorded, err
		}
		if ok {
			recorded++
		}
	}
	return recorded, nil
}

func toTransfer(network models.Network, a Activity) (models.Transfer, error) {
	if a.Hash == "" {
		return models.Transfer{}, fmt.Errorf("activity without hash")
	}
	if a.BlockNum == "" {
		return models.Transfer{}, fmt.Errorf("activity without block number")
	}
	height, err := hexutil.DecodeUint64(normalizeHex(a.BlockNum))
	if err != nil {
		return models.Transfer{}, fmt.Errorf("block number %q: %w", a.BlockNum, err)
	}

	raw := new(big.Int)
	if a.RawContract.RawValue != "" && a.RawContract.RawValue != "0x" {
		raw, err = hexutil.DecodeBig(normalizeHex(a.RawContract.RawValue))
		if err != nil {
			return models.Transfer{}, fmt.Errorf("raw value %q: %w", a.RawContract.RawValue, err)
		}
	}

	info, _ := network.Info()
	decimals := info.Decimals
	if a.RawContract.Decimals != nil {
		decimals = *a.RawContract.Decimals
	}

	var contract *string
	if a.RawContract.Address != nil && *a.RawContract.Address != "" {
		c := strings.ToLower(*a.RawContract.Address)
		contract = &c
	}

	return models.Transfer{
		ID:       a.Hash,
		Network:  network,
		Contract: contract,
		From:     models.NormalizeAddress(network, a.FromAddress),
		To:       models.NormalizeAddress(network, a.ToAddress),
		Amount:   decimal.NewFromBigInt(raw, -decimals),
		Height:   height,
	}, nil
}

// normalizeHex strips leading zeros, which hexutil rejects.
func normalizeHex(s string) string {
	digits := strings.TrimLeft(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), "0")
	if digits == "" {
		return "0x0"
	}
	return "0x" + digits
}

package models

import (
	"context"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

// User is a wallet holder. The id is derived from the wallet seed.
type User struct {
	ID        string
	Addresses map[Network][]string
}

// KeyHandle signs digests with a derived private key that never leaves the
// keys package.
type KeyHandle interface {
	PublicKey() []byte
	Sign(digest []byte) ([]byte, error)
}

// Account is a derived (network, index) keypair and its address.
type Account struct {
	Network Network
	Index   uint32
	Address string
	Key     KeyHandle
}

// AddressRecord is the persisted form of an Account.
type AddressRecord struct {
	Address string  `json:"address"`
	UserID  string  `json:"user_id"`
	Index   uint32  `json:"index"`
	Network Network `json:"network"`
}

// PendingCredit is value sent to an account-chain address that has not been
// claimed by a receive block yet.
type PendingCredit struct {
	SourceBlockID string
	Amount        *big.Int
	FromAddress   string
}

// Transfer is the normalized settlement record shared by every network.
// From, To and Amount never change once observed.
type Transfer struct {
	ID            string          `json:"id"`
	Network       Network         `json:"network"`
	Contract      *string         `json:"contract,omitempty"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations uint64          `json:"confirmations"`
	Height        uint64          `json:"height"`
}

// TransferEvent is a Transfer delivered to a user. Cursor equals the transfer id.
type TransferEvent struct {
	Transfer Transfer `json:"transfer"`
	UserID   string   `json:"user_id"`
	Cursor   string   `json:"cursor"`
}

// NewTransferEvent tags t for delivery to userID.
func NewTransferEvent(t Transfer, userID string) TransferEvent {
	return TransferEvent{Transfer: t, UserID: userID, Cursor: t.ID}
}

// TransactionPreview is a signed transaction that has not been broadcast.
// Send is the only way to broadcast it and succeeds at most once.
type TransactionPreview struct {
	Hash string
	Fee  decimal.Decimal

	mu   sync.Mutex
	sent bool
	send func(ctx context.Context) error
}

func NewTransactionPreview(hash string, fee decimal.Decimal, send func(ctx context.Context) error) *TransactionPreview {
	return &TransactionPreview{Hash: hash, Fee: fee, send: send}
}

// Send broadcasts the signed payload. A failed broadcast may be retried; a
// successful one may not.
func (p *TransactionPreview) Send(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sent {
		return ErrAlreadyBroadcast
	}
	if err := p.send(ctx); err != nil {
		return err
	}
	p.sent = true
	return nil
}

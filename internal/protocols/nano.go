package protocols

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"polywallet/internal/config"
	"polywallet/internal/keys"
	"polywallet/internal/models"
	"polywallet/internal/registry"
	"polywallet/internal/rpc"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// NanoNode is the node RPC surface used by the account-chain engine.
type NanoNode interface {
	AccountInfo(ctx context.Context, account string) (*rpc.NanoAccountInfo, error)
	AccountsBalances(ctx context.Context, accounts []string) (map[string]rpc.NanoBalance, error)
	AccountsReceivable(ctx context.Context, accounts []string) (map[string][]models.PendingCredit, error)
	WorkGenerate(ctx context.Context, hash string) (string, error)
	Process(ctx context.Context, subtype string, block rpc.NanoBlock) (string, error)
	AccountHistory(ctx context.Context, account string) ([]rpc.NanoHistoryEntry, error)
	BlocksInfo(ctx context.Context, hashes []string) (map[string]rpc.NanoBlockInfo, error)
}

var _ NanoNode = (*rpc.NanoClient)(nil)

var maxNanoBalance = new(big.Int).Lsh(big.NewInt(1), 128)

const zeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// NanoEngine implements AccountChain. A debit larger than the settled
// balance first claims receivable blocks, one receive block per credit.
type NanoEngine struct {
	network        models.Network
	decimals       int32
	threshold      int
	registry       *registry.Registry
	node           NanoNode
	representative []byte
	repAddress     string
	logger         *zerolog.Logger

	// mu serializes block construction so two transfers never build on the
	// same head.
	mu sync.Mutex
}

func NewNanoEngine(cfg Config) (*NanoEngine, error) {
	info, _ := cfg.Network.Info()

	repAddress := cfg.Representative
	if repAddress == "" {
		repAddress = config.DefaultRepresentative
	}
	rep, err := keys.DecodeNanoAddress(repAddress)
	if err != nil {
		return nil, fmt.Errorf("representative %s: %w", repAddress, err)
	}

	l := cfg.Logger.With().Str("network", cfg.Network.String()).Logger()
	return &NanoEngine{
		network:        cfg.Network,
		decimals:       info.Decimals,
		threshold:      info.FinalityThreshold,
		registry:       cfg.Registry,
		node:           cfg.Nano,
		representative: rep,
		repAddress:     repAddress,
		logger:         &l,
	}, nil
}

func (e *NanoEngine) Kind() Kind                { return AccountChain }
func (e *NanoEngine) Network() models.Network   { return e.network }
func (e *NanoEngine) FinalityThreshold() int    { return e.threshold }
func (e *NanoEngine) Smallest() decimal.Decimal { return e.network.Smallest() }

func (e *NanoEngine) NewAddress(ctx context.Context) (string, error) {
	account, err := e.registry.NewAddress(ctx)
	if err != nil {
		return "", err
	}
	return account.Address, nil
}

// chainHead is the locally tracked tip of an account while blocks are built.
type chainHead struct {
	hash    string
	balance *big.Int
}

func (e *NanoEngine) Transfer(ctx context.Context, req TransferRequest) (*models.TransactionPreview, error) {
	if err := rejectContract(req); err != nil {
		return nil, err
	}
	account, err := e.registry.Lookup(ctx, req.From)
	if err != nil {
		return nil, err
	}
	recipient, err := keys.DecodeNanoAddress(req.To)
	if err != nil {
		return nil, models.NewValidationError("invalid recipient %s: %v", req.To, err)
	}
	amount, err := toMinor(req.Amount, e.decimals)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	log := e.logger.With().Str("address", account.Address).Logger()

	log.Debug().Str("state", "querying").Msg("Building transfer")
	info, err := e.node.AccountInfo(ctx, account.Address)
	if err != nil {
		return nil, err
	}

	head := &chainHead{hash: info.Frontier, balance: new(big.Int).Set(info.Balance)}
	tentative := new(big.Int).Sub(head.balance, amount)

	if tentative.Sign() < 0 {
		available := new(big.Int).Add(info.Balance, info.Receivable)
		if (info.Frontier != "" && info.Receivable.Sign() == 0) || available.Cmp(amount) < 0 {
			return nil, fmt.Errorf("%w: available %s raw, need %s raw", models.ErrInsufficientFunds, available, amount)
		}
		if err := e.drain(ctx, account, head, &log); err != nil {
			return nil, err
		}
		tentative.Sub(head.balance, amount)
		if tentative.Sign() < 0 {
			return nil, fmt.Errorf("%w: balance %s raw after receiving, need %s raw", models.ErrInsufficientFunds, head.balance, amount)
		}
	}

	work, err := e.node.WorkGenerate(ctx, e.workRoot(account, head.hash))
	if err != nil {
		return nil, err
	}

	log.Debug().Str("state", "signing").Msg("Building transfer")
	block, hash, err := e.buildBlock(account, head.hash, tentative, recipient, work, true)
	if err != nil {
		return nil, err
	}
	log.Info().Str("state", "signed").Str("hash", hash).Str("to", req.To).Msg("Signed send block")

	return models.NewTransactionPreview(hash, decimal.Zero, func(ctx context.Context) error {
		log.Info().Str("state", "broadcasting").Str("hash", hash).Msg("Publishing send block")
		got, err := e.node.Process(ctx, "send", block)
		if err != nil {
			log.Error().Err(err).Str("hash", hash).Msg("Node rejected send block")
			return err
		}
		if got != "" && !strings.EqualFold(got, hash) {
			log.Warn().Str("hash", hash).Str("reported", got).Msg("Node reported a different block hash")
		}
		return nil
	}), nil
}

// drain publishes a receive (or open) block for every receivable credit of
// account, in the order reported by the node, advancing head as it goes.
func (e *NanoEngine) drain(ctx context.Context, account *models.Account, head *chainHead, log *zerolog.Logger) error {
	receivable, err := e.node.AccountsReceivable(ctx, []string{account.Address})
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, credit := range receivable[account.Address] {
		source := strings.ToUpper(credit.SourceBlockID)
		if seen[source] {
			continue
		}
		seen[source] = true

		link, err := decodeHash(source)
		if err != nil {
			return models.NewValidationError("receivable block %s: %v", credit.SourceBlockID, err)
		}

		log.Debug().
			Str("state", "draining").
			Str("source", source).
			Str("amount", credit.Amount.String()).
			Msg("Receiving credit")

		work, err := e.node.WorkGenerate(ctx, e.workRoot(account, head.hash))
		if err != nil {
			return err
		}

		balance := new(big.Int).Add(head.balance, credit.Amount)
		block, hash, err := e.buildBlock(account, head.hash, balance, link, work, false)
		if err != nil {
			return err
		}

		subtype := "receive"
		if head.hash == "" {
			subtype = "open"
		}
		if _, err := e.node.Process(ctx, subtype, block); err != nil {
			return fmt.Errorf("publish %s block for %s: %w", subtype, source, err)
		}

		head.hash = hash
		head.balance = balance
	}
	return nil
}

// workRoot is the head, or the account public key for an unopened account.
func (e *NanoEngine) workRoot(account *models.Account, head string) string {
	if head == "" {
		return strings.ToUpper(hex.EncodeToString(account.Key.PublicKey()))
	}
	return head
}

// buildBlock validates, hashes and signs a state block.
func (e *NanoEngine) buildBlock(account *models.Account, previous string, balance *big.Int, link []byte, work string, send bool) (rpc.NanoBlock, string, error) {
	if balance.Sign() < 0 || balance.Cmp(maxNanoBalance) >= 0 {
		return rpc.NanoBlock{}, "", models.NewValidationError("balance %s out of range", balance)
	}
	if len(link) != 32 {
		return rpc.NanoBlock{}, "", models.NewValidationError("link must be 32 bytes, got %d", len(link))
	}
	if work == "" {
		return rpc.NanoBlock{}, "", models.NewValidationError("missing work")
	}

	prevHex := previous
	if prevHex == "" {
		prevHex = zeroHash
	}
	prev, err := decodeHash(prevHex)
	if err != nil {
		return rpc.NanoBlock{}, "", models.NewValidationError("previous %s: %v", previous, err)
	}

	public := account.Key.PublicKey()
	hash := keys.NanoStateBlockHash(public, prev, e.representative, balance, link)
	signature, err := account.Key.Sign(hash)
	if err != nil {
		return rpc.NanoBlock{}, "", fmt.Errorf("sign block: %w", err)
	}

	block := rpc.NanoBlock{
		Type:           "state",
		Account:        account.Address,
		Previous:       strings.ToUpper(prevHex),
		Representative: e.repAddress,
		Balance:        balance.String(),
		Link:           strings.ToUpper(hex.EncodeToString(link)),
		Signature:      strings.ToUpper(hex.EncodeToString(signature)),
		Work:           work,
	}
	if send {
		block.LinkAsAccount = keys.NanoAddress(link)
	}
	return block, keys.NanoHashHex(hash), nil
}

func decodeHash(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != 32 {
		return nil, errors.New("hash must be 32 bytes")
	}
	return b, nil
}

// Balance is the settled balance plus receivable credits.
func (e *NanoEngine) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	balances, err := e.node.AccountsBalances(ctx, []string{address})
	if err != nil {
		return decimal.Zero, err
	}
	b, ok := balances[address]
	if !ok {
		return decimal.Zero, nil
	}
	total := new(big.Int).Add(b.Balance, b.Receivable)
	return fromMinor(total, e.decimals), nil
}

// TransferHistory lists sends and receives of address by height, then its
// unclaimed credits.
// Receives are keyed by the hash of the send block they claim so ids match
// the sender's preview.
func (e *NanoEngine) TransferHistory(ctx context.Context, address string) ([]models.Transfer, error) {
	history, err := e.node.AccountHistory(ctx, address)
	if err != nil {
		return nil, err
	}

	var receives []string
	for _, entry := range history {
		if entry.Type == "receive" {
			receives = append(receives, entry.Hash)
		}
	}
	blocks, err := e.node.BlocksInfo(ctx, receives)
	if err != nil {
		return nil, err
	}

	transfers := make([]models.Transfer, 0, len(history))
	for _, entry := range history {
		raw, ok := new(big.Int).SetString(entry.Amount, 10)
		if !ok {
			e.logger.Warn().Str("hash", entry.Hash).Str("amount", entry.Amount).Msg("Skipping history entry with invalid amount")
			continue
		}

		t := models.Transfer{
			Network:       e.network,
			Amount:        fromMinor(raw, e.decimals),
			Confirmations: 1,
			Height:        rpc.ParseHeight(entry.Height),
		}
		switch entry.Type {
		case "send":
			t.ID = entry.Hash
			t.From = address
			t.To = entry.Account
		case "receive":
			t.ID = entry.Hash
			if info, ok := blocks[entry.Hash]; ok && info.Contents.Link != "" {
				t.ID = info.Contents.Link
			}
			t.From = entry.Account
			t.To = address
		default:
			continue
		}
		transfers = append(transfers, t)
	}

	sort.SliceStable(transfers, func(i, j int) bool { return transfers[i].Height < transfers[j].Height })

	// Confirmed sends that address has not claimed yet, after the chain.
	receivable, err := e.node.AccountsReceivable(ctx, []string{address})
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(transfers))
	for _, t := range transfers {
		known[strings.ToUpper(t.ID)] = true
	}
	for _, credit := range receivable[address] {
		if known[strings.ToUpper(credit.SourceBlockID)] {
			continue
		}
		transfers = append(transfers, models.Transfer{
			ID:            credit.SourceBlockID,
			Network:       e.network,
			From:          credit.FromAddress,
			To:            address,
			Amount:        fromMinor(credit.Amount, e.decimals),
			Confirmations: 1,
		})
	}
	return transfers, nil
}

// Package rpctest provides in-memory chain nodes for tests.
package rpctest

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"polywallet/internal/keys"
	"polywallet/internal/models"
	"polywallet/internal/rpc"
)

type nanoAccount struct {
	frontier   string
	height     uint64
	balance    *big.Int
	receivable []models.PendingCredit
	history    []rpc.NanoHistoryEntry
}

// NanoNode is a single-process block lattice. Process verifies signatures,
// previous pointers and receivable claims the way a node does.
type NanoNode struct {
	mu       sync.Mutex
	accounts map[string]*nanoAccount
	blocks   map[string]rpc.NanoBlockInfo

	Processed  []rpc.NanoBlock
	Subtypes   []string
	WorkRoots  []string
	Calls      map[string]int
	ProcessErr error
	OnProcess  func(hash string, block rpc.NanoBlock, subtype string)
}

func NewNanoNode() *NanoNode {
	return &NanoNode{
		accounts: make(map[string]*nanoAccount),
		blocks:   make(map[string]rpc.NanoBlockInfo),
		Calls:    make(map[string]int),
	}
}

func (n *NanoNode) account(address string) *nanoAccount {
	a, ok := n.accounts[address]
	if !ok {
		a = &nanoAccount{balance: new(big.Int)}
		n.accounts[address] = a
	}
	return a
}

// Fund adds a receivable credit for address.
func (n *NanoNode) Fund(address, sourceHash, from string, raw *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a := n.account(address)
	a.receivable = append(a.receivable, models.PendingCredit{SourceBlockID: sourceHash, Amount: raw, FromAddress: from})
}

// Open sets a settled balance and an arbitrary frontier for address.
func (n *NanoNode) Open(address, frontier string, raw *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a := n.account(address)
	a.frontier = frontier
	a.height = 1
	a.balance = new(big.Int).Set(raw)
}

func (n *NanoNode) count(action string) {
	n.Calls[action]++
}

func sum(credits []models.PendingCredit) *big.Int {
	total := new(big.Int)
	for _, c := range credits {
		total.Add(total, c.Amount)
	}
	return total
}

func (n *NanoNode) AccountInfo(ctx context.Context, account string) (*rpc.NanoAccountInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count("account_info")

	a := n.account(account)
	return &rpc.NanoAccountInfo{
		Frontier:   a.frontier,
		Balance:    new(big.Int).Set(a.balance),
		Receivable: sum(a.receivable),
	}, nil
}

func (n *NanoNode) AccountsBalances(ctx context.Context, accounts []string) (map[string]rpc.NanoBalance, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count("accounts_balances")

	out := make(map[string]rpc.NanoBalance, len(accounts))
	for _, address := range accounts {
		a := n.account(address)
		out[address] = rpc.NanoBalance{Balance: new(big.Int).Set(a.balance), Receivable: sum(a.receivable)}
	}
	return out, nil
}

func (n *NanoNode) AccountsReceivable(ctx context.Context, accounts []string) (map[string][]models.PendingCredit, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count("accounts_receivable")

	out := make(map[string][]models.PendingCredit, len(accounts))
	for _, address := range accounts {
		out[address] = append([]models.PendingCredit(nil), n.account(address).receivable...)
	}
	return out, nil
}

func (n *NanoNode) WorkGenerate(ctx context.Context, hash string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count("work_generate")
	n.WorkRoots = append(n.WorkRoots, hash)
	return "fedcba9876543210", nil
}

func (n *NanoNode) Process(ctx context.Context, subtype string, block rpc.NanoBlock) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count("process")

	if n.ProcessErr != nil {
		return "", n.ProcessErr
	}

	hash, err := n.apply(subtype, block)
	if err != nil {
		return "", err
	}
	n.Processed = append(n.Processed, block)
	n.Subtypes = append(n.Subtypes, subtype)
	if n.OnProcess != nil {
		n.OnProcess(hash, block, subtype)
	}
	return hash, nil
}

func (n *NanoNode) apply(subtype string, block rpc.NanoBlock) (string, error) {
	public, err := keys.DecodeNanoAddress(block.Account)
	if err != nil {
		return "", models.NewValidationError("Bad account")
	}
	rep, err := keys.DecodeNanoAddress(block.Representative)
	if err != nil {
		return "", models.NewValidationError("Bad representative")
	}
	previous, err := hex.DecodeString(block.Previous)
	if err != nil || len(previous) != 32 {
		return "", models.NewValidationError("Bad previous")
	}
	link, err := hex.DecodeString(block.Link)
	if err != nil || len(link) != 32 {
		return "", models.NewValidationError("Bad link")
	}
	balance, ok := new(big.Int).SetString(block.Balance, 10)
	if !ok {
		return "", models.NewValidationError("Bad balance")
	}
	signature, err := hex.DecodeString(block.Signature)
	if err != nil {
		return "", models.NewValidationError("Bad signature")
	}

	hashBytes := keys.NanoStateBlockHash(public, previous, rep, balance, link)
	if !keys.VerifyNano(public, hashBytes, signature) {
		return "", models.NewValidationError("Bad signature")
	}
	hash := keys.NanoHashHex(hashBytes)

	a := n.account(block.Account)
	expectedPrevious := a.frontier
	if expectedPrevious == "" {
		expectedPrevious = strings.Repeat("0", 64)
	}
	if !strings.EqualFold(expectedPrevious, block.Previous) {
		return "", models.NewValidationError("Fork")
	}

	info := rpc.NanoBlockInfo{BlockAccount: block.Account, Contents: block}
	switch {
	case balance.Cmp(a.balance) < 0:
		if subtype != "send" {
			return "", models.NewValidationError("Block is not a %s", subtype)
		}
		amount := new(big.Int).Sub(a.balance, balance)
		recipient := keys.NanoAddress(link)
		r := n.account(recipient)
		r.receivable = append(r.receivable, models.PendingCredit{SourceBlockID: hash, Amount: amount, FromAddress: block.Account})

		a.history = append([]rpc.NanoHistoryEntry{{
			Type: "send", Account: recipient, Amount: amount.String(), Hash: hash, Height: strconv.FormatUint(a.height+1, 10),
		}}, a.history...)
		info.Subtype = "send"
		info.Amount = amount.String()
	default:
		source := strings.ToUpper(block.Link)
		idx := -1
		for i, c := range a.receivable {
			if strings.EqualFold(c.SourceBlockID, source) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return "", models.NewValidationError("Unreceivable")
		}
		credit := a.receivable[idx]
		if new(big.Int).Add(a.balance, credit.Amount).Cmp(balance) != 0 {
			return "", models.NewValidationError("Balance mismatch")
		}
		a.receivable = append(a.receivable[:idx:idx], a.receivable[idx+1:]...)

		a.history = append([]rpc.NanoHistoryEntry{{
			Type: "receive", Account: credit.FromAddress, Amount: credit.Amount.String(), Hash: hash, Height: strconv.FormatUint(a.height+1, 10),
		}}, a.history...)
		info.Subtype = "receive"
		info.Amount = credit.Amount.String()
	}

	a.frontier = hash
	a.height++
	a.balance = balance
	info.Height = strconv.FormatUint(a.height, 10)
	n.blocks[hash] = info
	return hash, nil
}

func (n *NanoNode) AccountHistory(ctx context.Context, account string) ([]rpc.NanoHistoryEntry, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count("account_history")
	return append([]rpc.NanoHistoryEntry(nil), n.account(account).history...), nil
}

func (n *NanoNode) BlocksInfo(ctx context.Context, hashes []string) (map[string]rpc.NanoBlockInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count("blocks_info")

	out := make(map[string]rpc.NanoBlockInfo, len(hashes))
	for _, h := range hashes {
		info, ok := n.blocks[h]
		if !ok {
			return nil, fmt.Errorf("block %s not found", h)
		}
		out[h] = info
	}
	return out, nil
}

// Frontier returns the current head of address.
func (n *NanoNode) Frontier(address string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.account(address).frontier
}

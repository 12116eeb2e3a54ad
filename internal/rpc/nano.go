package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"polywallet/internal/models"

	"github.com/pkg/errors"
)

// RemoteError is an {"error": "..."} answer from a node.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

const accountNotFound = "Account not found"

// NanoBlock is a state block in the node's JSON representation.
type NanoBlock struct {
	Type           string `json:"type"`
	Account        string `json:"account"`
	Previous       string `json:"previous"`
	Representative string `json:"representative"`
	Balance        string `json:"balance"`
	Link           string `json:"link"`
	LinkAsAccount  string `json:"link_as_account,omitempty"`
	Signature      string `json:"signature"`
	Work           string `json:"work"`
}

// NanoAccountInfo is the settled state of an account. Frontier is empty for
// an account that has no blocks yet.
type NanoAccountInfo struct {
	Frontier   string
	Balance    *big.Int
	Receivable *big.Int
}

// NanoBalance is an entry of accounts_balances.
type NanoBalance struct {
	Balance    *big.Int
	Receivable *big.Int
}

// NanoHistoryEntry is an entry of account_history. Account is the counterparty.
type NanoHistoryEntry struct {
	Type    string `json:"type"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Hash    string `json:"hash"`
	Height  string `json:"height"`
}

// NanoBlockInfo is an entry of blocks_info.
type NanoBlockInfo struct {
	BlockAccount string    `json:"block_account"`
	Amount       string    `json:"amount"`
	Height       string    `json:"height"`
	Subtype      string    `json:"subtype"`
	Contents     NanoBlock `json:"contents"`
}

// NanoClient speaks the action based Nano node RPC.
type NanoClient struct {
	client *Client
	apiKey string
}

func NewNanoClient(client *Client, apiKey string) *NanoClient {
	return &NanoClient{client: client, apiKey: apiKey}
}

func (n *NanoClient) call(ctx context.Context, action string, params map[string]interface{}, out interface{}) error {
	payload := map[string]interface{}{"action": action}
	for k, v := range params {
		payload[k] = v
	}
	if n.apiKey != "" {
		payload["key"] = n.apiKey
	}

	raw, err := n.client.Post(ctx, payload)
	if err != nil {
		return err
	}

	var remote struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &remote); err != nil {
		return errors.Wrapf(err, "decode %s response", action)
	}
	if remote.Error != "" {
		return &RemoteError{Action: action, Message: remote.Error}
	}

	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "decode %s response", action)
}

func (n *NanoClient) AccountInfo(ctx context.Context, account string) (*NanoAccountInfo, error) {
	var resp struct {
		Frontier   string `json:"frontier"`
		Balance    string `json:"balance"`
		Receivable string `json:"receivable"`
	}
	err := n.call(ctx, "account_info", map[string]interface{}{
		"account":           account,
		"receivable":        "true",
		"include_confirmed": "true",
	}, &resp)

	var remote *RemoteError
	if errors.As(err, &remote) && remote.Message == accountNotFound {
		info := &NanoAccountInfo{Balance: new(big.Int), Receivable: new(big.Int)}
		// An unopened account can still have receivable blocks.
		balances, err := n.AccountsBalances(ctx, []string{account})
		if err != nil {
			return nil, err
		}
		if b, ok := balances[account]; ok {
			info.Receivable = b.Receivable
		}
		return info, nil
	}
	if err != nil {
		return nil, err
	}

	balance, err := parseRaw(resp.Balance)
	if err != nil {
		return nil, err
	}
	receivable, err := parseRaw(resp.Receivable)
	if err != nil {
		return nil, err
	}
	return &NanoAccountInfo{Frontier: resp.Frontier, Balance: balance, Receivable: receivable}, nil
}

func (n *NanoClient) AccountsBalances(ctx context.Context, accounts []string) (map[string]NanoBalance, error) {
	var resp struct {
		Balances map[string]struct {
			Balance    string `json:"balance"`
			Receivable string `json:"receivable"`
			Pending    string `json:"pending"`
		} `json:"balances"`
	}
	if err := n.call(ctx, "accounts_balances", map[string]interface{}{"accounts": accounts}, &resp); err != nil {
		return nil, err
	}

	balances := make(map[string]NanoBalance, len(resp.Balances))
	for account, b := range resp.Balances {
		balance, err := parseRaw(b.Balance)
		if err != nil {
			return nil, err
		}
		receivableRaw := b.Receivable
		if receivableRaw == "" {
			receivableRaw = b.Pending
		}
		receivable, err := parseRaw(receivableRaw)
		if err != nil {
			return nil, err
		}
		balances[account] = NanoBalance{Balance: balance, Receivable: receivable}
	}
	return balances, nil
}

// AccountsReceivable returns the receivable blocks of each account in the
// order the node reported them.
func (n *NanoClient) AccountsReceivable(ctx context.Context, accounts []string) (map[string][]models.PendingCredit, error) {
	var resp struct {
		Blocks json.RawMessage `json:"blocks"`
	}
	err := n.call(ctx, "accounts_receivable", map[string]interface{}{
		"accounts": accounts,
		"source":   "true",
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := make(map[string][]models.PendingCredit, len(accounts))
	err = forEachKey(resp.Blocks, func(account string, blocks json.RawMessage) error {
		return forEachKey(blocks, func(hash string, entry json.RawMessage) error {
			credit, err := decodeCredit(hash, entry)
			if err != nil {
				return err
			}
			result[account] = append(result[account], credit)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode receivable blocks")
	}
	return result, nil
}

func decodeCredit(hash string, entry json.RawMessage) (models.PendingCredit, error) {
	credit := models.PendingCredit{SourceBlockID: hash}

	// Without source=true nodes answer with the bare amount.
	var amount string
	if err := json.Unmarshal(entry, &amount); err == nil {
		raw, err := parseRaw(amount)
		credit.Amount = raw
		return credit, err
	}

	var detail struct {
		Amount string `json:"amount"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(entry, &detail); err != nil {
		return credit, err
	}
	raw, err := parseRaw(detail.Amount)
	credit.Amount = raw
	credit.FromAddress = detail.Source
	return credit, err
}

func (n *NanoClient) WorkGenerate(ctx context.Context, hash string) (string, error) {
	var resp struct {
		Work string `json:"work"`
	}
	if err := n.call(ctx, "work_generate", map[string]interface{}{"hash": hash}, &resp); err != nil {
		return "", err
	}
	if resp.Work == "" {
		return "", errors.New("work_generate returned no work")
	}
	return resp.Work, nil
}

// Process publishes block. A rejection by the node is returned as a
// *models.ValidationError carrying the node's message.
func (n *NanoClient) Process(ctx context.Context, subtype string, block NanoBlock) (string, error) {
	var resp struct {
		Hash string `json:"hash"`
	}
	err := n.call(ctx, "process", map[string]interface{}{
		"json_block": "true",
		"subtype":    subtype,
		"block":      block,
	}, &resp)

	var remote *RemoteError
	if errors.As(err, &remote) {
		return "", models.NewValidationError("%s", remote.Message)
	}
	if err != nil {
		return "", err
	}
	return resp.Hash, nil
}

func (n *NanoClient) AccountHistory(ctx context.Context, account string) ([]NanoHistoryEntry, error) {
	var resp struct {
		History json.RawMessage `json:"history"`
	}
	err := n.call(ctx, "account_history", map[string]interface{}{
		"account": account,
		"count":   "-1",
	}, &resp)
	if err != nil {
		return nil, err
	}
	if isEmptyJSON(resp.History) {
		return nil, nil
	}

	var history []NanoHistoryEntry
	if err := json.Unmarshal(resp.History, &history); err != nil {
		return nil, errors.Wrap(err, "decode account history")
	}
	return history, nil
}

func (n *NanoClient) BlocksInfo(ctx context.Context, hashes []string) (map[string]NanoBlockInfo, error) {
	if len(hashes) == 0 {
		return map[string]NanoBlockInfo{}, nil
	}
	var resp struct {
		Blocks map[string]NanoBlockInfo `json:"blocks"`
	}
	err := n.call(ctx, "blocks_info", map[string]interface{}{
		"json_block": "true",
		"hashes":     hashes,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Blocks, nil
}

// forEachKey visits the members of a JSON object in document order. An
// empty string or null is treated as an empty object.
func forEachKey(raw json.RawMessage, fn func(key string, value json.RawMessage) error) error {
	if isEmptyJSON(raw) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.Errorf("expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errors.Errorf("expected key, got %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := string(bytes.TrimSpace(raw))
	return s == "" || s == `""` || s == "null"
}

func parseRaw(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("invalid raw amount %q", s)
	}
	return v, nil
}

// ParseHeight parses a decimal block height as reported by the node.
func ParseHeight(s string) uint64 {
	h, _ := strconv.ParseUint(s, 10, 64)
	return h
}

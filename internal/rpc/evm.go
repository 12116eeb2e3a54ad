package rpc

import (
	"context"
	"math/big"
	"net/http"

	"polywallet/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// EVMClient wraps ethclient with the same rate limit and error classification
// as the other chain clients.
type EVMClient struct {
	network models.Network
	rpc     *gethrpc.Client
	eth     *ethclient.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// DialEVM connects to an EVM JSON-RPC endpoint (http or websocket).
func DialEVM(ctx context.Context, network models.Network, endpoint string, opts ClientOptions, logger *zerolog.Logger) (*EVMClient, error) {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	httpClient := &http.Client{
		Timeout: opts.HTTPTimeout,
		Transport: &CustomTransport{
			Base:   http.DefaultTransport,
			ApiKey: opts.ApiKey,
			Header: opts.AuthHeader,
		},
	}

	c, err := gethrpc.DialOptions(ctx, endpoint, gethrpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", network)
	}

	return &EVMClient{
		network: network,
		rpc:     c,
		eth:     ethclient.NewClient(c),
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		logger:  logger,
	}, nil
}

func (c *EVMClient) wait(ctx context.Context, op string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &models.TransportError{Op: op, Err: err}
	}
	return nil
}

// FeeData returns the EIP-1559 fee caps: maxFee = 2*baseFee + tip.
func (c *EVMClient) FeeData(ctx context.Context) (maxFee, tip *big.Int, err error) {
	if err := c.wait(ctx, "fee data"); err != nil {
		return nil, nil, err
	}
	tip, err = c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, &models.TransportError{Op: "eth_maxPriorityFeePerGas", Err: err}
	}
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, &models.TransportError{Op: "eth_getBlockByNumber", Err: err}
	}
	if header.BaseFee == nil || tip == nil {
		return nil, nil, errors.Errorf("%s: fee data unavailable", c.network)
	}
	maxFee = new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return maxFee, tip, nil
}

func (c *EVMClient) TransactionCount(ctx context.Context, address string) (uint64, error) {
	if err := c.wait(ctx, "eth_getTransactionCount"); err != nil {
		return 0, err
	}
	nonce, err := c.eth.PendingNonceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return 0, &models.TransportError{Op: "eth_getTransactionCount", Err: err}
	}
	return nonce, nil
}

func (c *EVMClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	if err := c.wait(ctx, "eth_getBalance"); err != nil {
		return nil, err
	}
	balance, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, &models.TransportError{Op: "eth_getBalance", Err: err}
	}
	return balance, nil
}

// SendRawTransaction broadcasts a signed, encoded transaction. A JSON-RPC
// error answer is a rejection and is returned as *models.ValidationError.
func (c *EVMClient) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	if err := c.wait(ctx, "eth_sendRawTransaction"); err != nil {
		return "", err
	}
	var hash common.Hash
	err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw))
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return "", models.NewValidationError("%s", rpcErr.Error())
	}
	if err != nil {
		return "", &models.TransportError{Op: "eth_sendRawTransaction", Err: err}
	}
	return hash.Hex(), nil
}

func (c *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx, "eth_blockNumber"); err != nil {
		return 0, err
	}
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, &models.TransportError{Op: "eth_blockNumber", Err: err}
	}
	return n, nil
}

// SubscribeNewHead returns gethrpc.ErrNotificationsUnsupported on endpoints
// without subscriptions (plain http).
func (c *EVMClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return c.eth.SubscribeNewHead(ctx, ch)
}

func (c *EVMClient) Network() models.Network {
	return c.network
}

func (c *EVMClient) Close() {
	c.eth.Close()
}

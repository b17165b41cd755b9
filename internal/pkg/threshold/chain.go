package threshold

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/samber/do/v2"
)

const balanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf",` +
	`"outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

var ErrUnknownChain = errors.New("unknown chain")

// EthChainReader reads balances over JSON-RPC, one client per named chain.
type EthChainReader struct {
	clients map[string]*ethclient.Client
	abi     abi.ABI
}

// DialChains accepts "name=rpc-url" entries.
func DialChains(ctx context.Context, endpoints []string) (*EthChainReader, error) {
	parsed, err := abi.JSON(strings.NewReader(balanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse balanceOf abi: %w", err)
	}

	reader := &EthChainReader{
		clients: make(map[string]*ethclient.Client, len(endpoints)),
		abi:     parsed,
	}

	for _, endpoint := range endpoints {
		name, url, ok := strings.Cut(endpoint, "=")
		if !ok || len(name) == 0 || len(url) == 0 {
			reader.Close()

			return nil, fmt.Errorf("invalid chain endpoint %q, expected name=url", endpoint)
		}

		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			reader.Close()

			return nil, fmt.Errorf("failed to connect to %s rpc: %w", name, err)
		}

		reader.clients[name] = client
	}

	return reader, nil
}

func (r *EthChainReader) client(chain string) (*ethclient.Client, error) {
	client, ok := r.clients[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidConditions, ErrUnknownChain, chain)
	}

	return client, nil
}

func (r *EthChainReader) BalanceAt(ctx context.Context, chain string, account common.Address) (*big.Int, error) {
	client, err := r.client(chain)
	if err != nil {
		return nil, err
	}

	balance, err := client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balance: %w", err)
	}

	return balance, nil
}

func (r *EthChainReader) TokenBalance(
	ctx context.Context,
	chain string,
	contract, owner common.Address,
) (*big.Int, error) {
	client, err := r.client(chain)
	if err != nil {
		return nil, err
	}

	data, err := r.abi.Pack(MethodBalanceOf, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call: %w", err)
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	values, err := r.abi.Unpack(MethodBalanceOf, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}

	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected balanceOf result %v", values)
	}

	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}

	return balance, nil
}

func (r *EthChainReader) Close() {
	for _, client := range r.clients {
		client.Close()
	}
}

func (r *EthChainReader) Shutdown() {
	r.Close()
}

func NewChainReaderService(i do.Injector) (ChainReader, error) {
	endpoints := do.MustInvokeNamed[[]string](i, "chain-rpc")

	reader, err := DialChains(context.Background(), endpoints)
	if err != nil {
		return nil, err
	}

	return reader, nil
}

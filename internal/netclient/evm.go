package netclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// ERC-20 call selectors: first four bytes of keccak256 of the signature.
var (
	balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	decimalsSelector  = []byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
)

// EVMClient talks to an EVM JSON-RPC node through ethclient.
type EVMClient struct {
	eth *ethclient.Client
	log zerolog.Logger
}

func DialEVM(ctx context.Context, rpcURL string, log zerolog.Logger) (*EVMClient, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	return &EVMClient{
		eth: eth,
		log: log.With().Str("component", "evm_rpc").Logger(),
	}, nil
}

func (c *EVMClient) Close() {
	c.eth.Close()
}

// ChainID returns the chain id the node reports.
func (c *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := withRetry(ctx, c.log, "get chain id", func() error {
		out, err := c.eth.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("failed to get chain id: %w", err)
		}
		id = out
		return nil
	})
	return id, err
}

// PendingNonce returns the next nonce for addr, counting pending
// transactions.
func (c *EVMClient) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var nonce uint64
	err := withRetry(ctx, c.log, "get pending nonce", func() error {
		n, err := c.eth.PendingNonceAt(ctx, addr)
		if err != nil {
			return fmt.Errorf("failed to get pending nonce: %w", err)
		}
		nonce = n
		return nil
	})
	return nonce, err
}

// BaseFee returns the base fee of the latest block.
func (c *EVMClient) BaseFee(ctx context.Context) (*big.Int, error) {
	var fee *big.Int
	err := withRetry(ctx, c.log, "get base fee", func() error {
		head, err := c.eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to get latest header: %w", err)
		}
		if head.BaseFee == nil {
			return errors.New("node does not report a base fee; pre-London chains are not supported")
		}
		fee = new(big.Int).Set(head.BaseFee)
		return nil
	})
	return fee, err
}

// SuggestPriorityFee returns the node's tip cap suggestion.
func (c *EVMClient) SuggestPriorityFee(ctx context.Context) (*big.Int, error) {
	var tip *big.Int
	err := withRetry(ctx, c.log, "suggest priority fee", func() error {
		out, err := c.eth.SuggestGasTipCap(ctx)
		if err != nil {
			return fmt.Errorf("failed to get priority fee suggestion: %w", err)
		}
		tip = out
		return nil
	})
	return tip, err
}

// Balance returns the native balance of addr in wei at the latest block.
func (c *EVMClient) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var wei *big.Int
	err := withRetry(ctx, c.log, "get balance", func() error {
		out, err := c.eth.BalanceAt(ctx, addr, nil)
		if err != nil {
			return fmt.Errorf("failed to get balance: %w", err)
		}
		wei = out
		return nil
	})
	return wei, err
}

// TokenBalance returns the ERC-20 balance of owner on contract in raw
// token units, via an eth_call to balanceOf.
func (c *EVMClient) TokenBalance(ctx context.Context, contract, owner common.Address) (*big.Int, error) {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	msg := ethereum.CallMsg{To: &contract, Data: data}

	var units *big.Int
	err := withRetry(ctx, c.log, "get token balance", func() error {
		out, err := c.eth.CallContract(ctx, msg, nil)
		if err != nil {
			return fmt.Errorf("failed to call balanceOf: %w", err)
		}
		if len(out) == 0 {
			return fmt.Errorf("balanceOf returned no data; %s may not be a token contract", contract.Hex())
		}
		units = new(big.Int).SetBytes(out)
		return nil
	})
	return units, err
}

// TokenDecimals returns the decimal count of an ERC-20 contract.
func (c *EVMClient) TokenDecimals(ctx context.Context, contract common.Address) (uint8, error) {
	msg := ethereum.CallMsg{To: &contract, Data: decimalsSelector}

	var decimals uint8
	err := withRetry(ctx, c.log, "get token decimals", func() error {
		out, err := c.eth.CallContract(ctx, msg, nil)
		if err != nil {
			return fmt.Errorf("failed to call decimals: %w", err)
		}
		if len(out) == 0 {
			return fmt.Errorf("decimals returned no data; %s may not be a token contract", contract.Hex())
		}
		v := new(big.Int).SetBytes(out)
		if !v.IsUint64() || v.Uint64() > 255 {
			return fmt.Errorf("token %s reports invalid decimals %s", contract.Hex(), v.String())
		}
		decimals = uint8(v.Uint64())
		return nil
	})
	return decimals, err
}

// BroadcastRaw submits RLP-encoded signed transaction bytes and returns
// the transaction hash. A nonce already consumed on chain surfaces as
// ErrStaleParams.
func (c *EVMClient) BroadcastRaw(ctx context.Context, raw []byte) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("failed to decode signed transaction: %w", err)
	}

	err := withRetry(ctx, c.log, "send transaction", func() error {
		if err := c.eth.SendTransaction(ctx, tx); err != nil {
			if isAlreadyKnownError(err) {
				c.log.Info().Msg("transaction already in the mempool")
				return nil
			}
			if isStaleError(err) {
				return fmt.Errorf("%w: %v", ErrStaleParams, err)
			}
			return fmt.Errorf("failed to send transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	hash := tx.Hash().Hex()
	c.log.Info().Str("hash", hash).Msg("transaction broadcast")
	return hash, nil
}

// Receipt returns the mined receipt for the given transaction hash. A nil
// receipt with nil error means the transaction is not yet mined.
func (c *EVMClient) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := withRetry(ctx, c.log, "get transaction receipt", func() error {
		out, err := c.eth.TransactionReceipt(ctx, txHash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				receipt = nil
				return nil
			}
			return fmt.Errorf("failed to get transaction receipt: %w", err)
		}
		receipt = out
		return nil
	})
	return receipt, err
}

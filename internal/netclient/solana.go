package netclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
)

// TokenAccountSize is the byte size of an SPL token account, used when
// asking for the rent-exempt minimum a transfer must fund to create the
// recipient's account.
const TokenAccountSize = 165

// BlockhashInfo carries the fee parameters a Solana transfer is built
// against. LastValidBlockHeight bounds how long the signed transaction
// stays broadcastable.
type BlockhashInfo struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// SolanaClient talks to a Solana JSON-RPC node.
type SolanaClient struct {
	rpcClient *rpc.Client
	log       zerolog.Logger
}

func NewSolanaClient(rpcURL string, log zerolog.Logger) *SolanaClient {
	return &SolanaClient{
		rpcClient: rpc.New(rpcURL),
		log:       log.With().Str("component", "solana_rpc").Logger(),
	}
}

// LatestBlockhash returns the current blockhash and the last block height
// at which a transaction built on it remains valid.
func (c *SolanaClient) LatestBlockhash(ctx context.Context) (BlockhashInfo, error) {
	var info BlockhashInfo
	err := withRetry(ctx, c.log, "get latest blockhash", func() error {
		recent, err := c.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return fmt.Errorf("failed to get latest blockhash: %w", err)
		}
		info = BlockhashInfo{
			Blockhash:            recent.Value.Blockhash,
			LastValidBlockHeight: recent.Value.LastValidBlockHeight,
		}
		return nil
	})
	return info, err
}

// Balance returns the SOL balance of owner in lamports.
func (c *SolanaClient) Balance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := withRetry(ctx, c.log, "get balance", func() error {
		balance, err := c.rpcClient.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
		if err != nil {
			return fmt.Errorf("failed to get SOL balance: %w", err)
		}
		lamports = balance.Value
		return nil
	})
	return lamports, err
}

// TokenBalance returns the SPL token balance of owner for mint in raw
// token units. A missing associated token account reads as zero.
func (c *SolanaClient) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ataAddress, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to find associated token account address: %w", err)
	}

	var units uint64
	err = withRetry(ctx, c.log, "get token balance", func() error {
		balance, err := c.rpcClient.GetTokenAccountBalance(ctx, ataAddress, rpc.CommitmentConfirmed)
		if err != nil {
			if isAccountNotFoundError(err) {
				c.log.Debug().
					Str("account", ataAddress.String()).
					Msg("token account not found, balance is zero")
				units = 0
				return nil
			}
			return fmt.Errorf("failed to get token account balance: %w", err)
		}
		if balance.Value == nil {
			units = 0
			return nil
		}
		amount, err := strconv.ParseUint(balance.Value.Amount, 10, 64)
		if err != nil {
			return fmt.Errorf("failed to parse token balance amount: %w", err)
		}
		units = amount
		return nil
	})
	return units, err
}

// TokenAccountExists reports whether the associated token account of
// owner for mint exists. Transfers to an owner without one must include
// the create-account instruction.
func (c *SolanaClient) TokenAccountExists(ctx context.Context, owner, mint solana.PublicKey) (bool, error) {
	ataAddress, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return false, fmt.Errorf("failed to find associated token account address: %w", err)
	}

	var exists bool
	err = withRetry(ctx, c.log, "check token account", func() error {
		_, err := c.rpcClient.GetTokenAccountBalance(ctx, ataAddress, rpc.CommitmentConfirmed)
		if err != nil {
			if isAccountNotFoundError(err) {
				exists = false
				return nil
			}
			return fmt.Errorf("failed to check token account: %w", err)
		}
		exists = true
		return nil
	})
	return exists, err
}

// TokenDecimals returns the decimal count of an SPL token mint.
func (c *SolanaClient) TokenDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	var decimals uint8
	err := withRetry(ctx, c.log, "get token decimals", func() error {
		supply, err := c.rpcClient.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
		if err != nil {
			return fmt.Errorf("failed to get token supply: %w", err)
		}
		if supply.Value == nil {
			return fmt.Errorf("token supply for %s has no value", mint.String())
		}
		decimals = supply.Value.Decimals
		return nil
	})
	return decimals, err
}

// RentExemptBalance returns the minimum lamports an account of dataSize
// bytes must hold to be exempt from rent collection.
func (c *SolanaClient) RentExemptBalance(ctx context.Context, dataSize uint64) (uint64, error) {
	var lamports uint64
	err := withRetry(ctx, c.log, "get rent exempt minimum", func() error {
		minimum, err := c.rpcClient.GetMinimumBalanceForRentExemption(ctx, dataSize, rpc.CommitmentFinalized)
		if err != nil {
			return fmt.Errorf("failed to get rent exempt minimum: %w", err)
		}
		lamports = minimum
		return nil
	})
	return lamports, err
}

// BroadcastTx submits fully signed transaction bytes and returns the
// transaction signature. Preflight runs on the node, so an expired
// blockhash is rejected here and surfaces as ErrStaleParams.
func (c *SolanaClient) BroadcastTx(ctx context.Context, raw []byte) (string, error) {
	var sig solana.Signature
	err := withRetry(ctx, c.log, "send transaction", func() error {
		out, err := c.rpcClient.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentFinalized,
		})
		if err != nil {
			if isAlreadyKnownError(err) {
				c.log.Info().Msg("transaction already processed by the cluster")
				return nil
			}
			if isStaleError(err) {
				return fmt.Errorf("%w: %v", ErrStaleParams, err)
			}
			return fmt.Errorf("failed to send transaction: %w", err)
		}
		sig = out
		return nil
	})
	if err != nil {
		return "", err
	}
	c.log.Info().Str("signature", sig.String()).Msg("transaction broadcast")
	return sig.String(), nil
}

// Confirm reports whether the transaction with the given signature has
// reached confirmed or finalized commitment. A signature the cluster has
// not seen yet reports false without error.
func (c *SolanaClient) Confirm(ctx context.Context, signature string) (bool, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, fmt.Errorf("invalid transaction signature: %w", err)
	}

	var confirmed bool
	err = withRetry(ctx, c.log, "get signature status", func() error {
		out, err := c.rpcClient.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return fmt.Errorf("failed to get signature status: %w", err)
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			confirmed = false
			return nil
		}
		status := out.Value[0]
		if status.Err != nil {
			return fmt.Errorf("transaction failed on chain: %v", status.Err)
		}
		confirmed = status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			status.ConfirmationStatus == rpc.ConfirmationStatusFinalized
		return nil
	})
	return confirmed, err
}

func isAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "could not find account") ||
		strings.Contains(errStr, "not found")
}

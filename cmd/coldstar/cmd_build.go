package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli"

	"github.com/coldstar-labs/coldstar/airgap"
	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/chain/evm"
	"github.com/coldstar-labs/coldstar/chain/solana"
	"github.com/coldstar-labs/coldstar/internal/amount"
	"github.com/coldstar-labs/coldstar/internal/netclient"
)

// solFeeLamports is the flat fee for a single-signature Solana transaction.
const solFeeLamports = 5000

var buildCommand = cli.Command{
	Name:     "build",
	Category: "Transactions",
	Usage:    "Build an unsigned transaction envelope (online device).",
	Description: `
	Fetches current chain parameters (blockhash on Solana, nonce and
	fees on EVM chains) from the RPC endpoint and builds an unsigned
	transfer. The result is written as an envelope file and can also be
	shown as a QR code for transfer to the offline device.

	The sender defaults to the address stored in the wallet file; pass
	--from on a machine that does not hold the wallet.

	With --token the transfer moves SPL tokens (Solana) or ERC-20 tokens
	(EVM) instead of the native asset. Token amounts are given in human
	units; decimals are read from the chain.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "to",
			Usage: "Recipient address.",
		},
		cli.StringFlag{
			Name:  "amount",
			Usage: "Amount to send, in human units (SOL, ETH or tokens).",
		},
		cli.StringFlag{
			Name:  "token",
			Usage: "Token mint or contract; omit for a native transfer.",
		},
		cli.StringFlag{
			Name:  "from",
			Usage: "Sender address; defaults to the wallet file's address.",
		},
		cli.StringFlag{
			Name:      "out",
			Value:     "unsigned-tx.json",
			Usage:     "Envelope output path.",
			TakesFile: true,
		},
		cli.BoolFlag{
			Name:  "show-qr",
			Usage: "Also print the envelope as a terminal QR code.",
		},
	},
	Action: actionBuild,
}

func actionBuild(ctx *cli.Context) error {
	if ctx.String("to") == "" || ctx.String("amount") == "" {
		return cli.ShowCommandHelp(ctx, "build")
	}

	id, err := chainID(ctx)
	if err != nil {
		return err
	}

	from := ctx.String("from")
	if from == "" {
		from, err = newStore().ReadAddress(walletPath(ctx))
		if err != nil {
			return fmt.Errorf("no --from given and wallet is unreadable: %w", err)
		}
	}

	var tx chain.UnsignedTx
	switch id {
	case chain.Solana:
		tx, err = buildSolana(ctx, from)
	case chain.EVM:
		tx, err = buildEVM(ctx, from)
	default:
		err = fmt.Errorf("%w: %q", chain.ErrUnknownChain, id)
	}
	if err != nil {
		return err
	}

	env, err := airgap.NewUnsigned(tx)
	if err != nil {
		return err
	}
	out := ctx.String("out")
	if err := airgap.Save(env, out); err != nil {
		return err
	}

	summary := tx.Summary()
	fmt.Printf("Unsigned transaction written to %s\n", out)
	fmt.Printf("  To:     %s\n", summary.To)
	fmt.Printf("  Amount: %s %s\n", summary.Amount, summary.Asset)
	if summary.Detail != "" {
		fmt.Printf("  Detail: %s\n", summary.Detail)
	}
	fmt.Printf("\nMove %s to the offline device and run 'coldstar sign %s'.\n", out, out)

	if ctx.Bool("show-qr") {
		return printTerminalQR(env)
	}
	return nil
}

func buildSolana(ctx *cli.Context, from string) (chain.UnsignedTx, error) {
	ctxb := context.Background()
	client := netclient.NewSolanaClient(ctx.GlobalString("solana-rpc"), logger)

	info, err := client.LatestBlockhash(ctxb)
	if err != nil {
		return nil, err
	}
	params := solana.BuildParams{
		Blockhash:            info.Blockhash,
		LastValidBlockHeight: info.LastValidBlockHeight,
	}

	sender, err := solanago.PublicKeyFromBase58(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAddress, err)
	}

	to := ctx.String("to")
	amt := ctx.String("amount")
	token := ctx.String("token")
	if token == "" {
		if err := checkSolFunds(ctxb, client, sender, amt); err != nil {
			return nil, err
		}
		return solana.BuildTransfer(from, to, amt, params)
	}

	mint, err := solanago.PublicKeyFromBase58(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint: %w", err)
	}
	recipient, err := solanago.PublicKeyFromBase58(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAddress, err)
	}
	decimals, err := client.TokenDecimals(ctxb, mint)
	if err != nil {
		return nil, err
	}
	exists, err := client.TokenAccountExists(ctxb, recipient, mint)
	if err != nil {
		return nil, err
	}
	if err := checkSolTokenFunds(ctxb, client, sender, mint, amt, decimals, !exists); err != nil {
		return nil, err
	}
	return solana.BuildTokenTransfer(from, to, token, amt, decimals, !exists, params)
}

// checkSolFunds rejects a native transfer the sender cannot cover. The node
// runs the same check at broadcast; failing early saves a round trip across
// the air gap.
func checkSolFunds(ctx context.Context, client *netclient.SolanaClient, sender solanago.PublicKey, amt string) error {
	lamports, err := amount.ParseUint(amt, amount.SolDecimals)
	if err != nil {
		return fmt.Errorf("%w: %v", chain.ErrInvalidAmount, err)
	}
	balance, err := client.Balance(ctx, sender)
	if err != nil {
		return err
	}
	if balance < solFeeLamports || balance-solFeeLamports < lamports {
		var maxSendable uint64
		if balance > solFeeLamports {
			maxSendable = balance - solFeeLamports
		}
		return fmt.Errorf("insufficient SOL balance. Transaction fee: %s SOL. Max you can send: %s SOL",
			amount.FormatUint(solFeeLamports, amount.SolDecimals),
			amount.FormatUint(maxSendable, amount.SolDecimals))
	}
	return nil
}

// checkSolTokenFunds rejects a token transfer when the sender lacks either
// the tokens or the SOL for the fee. Creating the recipient's token account
// additionally costs the rent-exempt minimum.
func checkSolTokenFunds(ctx context.Context, client *netclient.SolanaClient, sender, mint solanago.PublicKey, amt string, decimals uint8, createAccount bool) error {
	tokenBalance, err := client.TokenBalance(ctx, sender, mint)
	if err != nil {
		return err
	}
	have := amount.FormatUint(tokenBalance, int(decimals))
	cmp, err := amount.Compare(amt, have, int(decimals))
	if err != nil {
		return fmt.Errorf("%w: %v", chain.ErrInvalidAmount, err)
	}
	if cmp > 0 {
		return fmt.Errorf("insufficient token balance. You have %s, trying to send %s", have, amt)
	}

	needed := uint64(solFeeLamports)
	if createAccount {
		rent, err := client.RentExemptBalance(ctx, netclient.TokenAccountSize)
		if err != nil {
			return err
		}
		needed += rent
	}
	solBalance, err := client.Balance(ctx, sender)
	if err != nil {
		return err
	}
	if solBalance < needed {
		return fmt.Errorf("insufficient SOL to pay for the transaction. Need %s SOL, have %s SOL",
			amount.FormatUint(needed, amount.SolDecimals),
			amount.FormatUint(solBalance, amount.SolDecimals))
	}
	return nil
}

func buildEVM(ctx *cli.Context, from string) (chain.UnsignedTx, error) {
	ctxb := context.Background()
	client, err := netclient.DialEVM(ctxb, ctx.GlobalString("evm-rpc"), logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if !common.IsHexAddress(from) {
		return nil, fmt.Errorf("%w: %q", chain.ErrInvalidAddress, from)
	}

	chainID, err := client.ChainID(ctxb)
	if err != nil {
		return nil, err
	}
	nonce, err := client.PendingNonce(ctxb, common.HexToAddress(from))
	if err != nil {
		return nil, err
	}
	baseFee, err := client.BaseFee(ctxb)
	if err != nil {
		return nil, err
	}
	tip, err := client.SuggestPriorityFee(ctxb)
	if err != nil {
		return nil, err
	}
	params := evm.BuildParams{
		ChainID: chainID,
		Nonce:   nonce,
		BaseFee: baseFee,
		TipCap:  tip,
	}

	sender := common.HexToAddress(from)
	to := ctx.String("to")
	amt := ctx.String("amount")
	token := ctx.String("token")
	if token == "" {
		tx, err := evm.BuildTransfer(to, amt, params)
		if err != nil {
			return nil, err
		}
		if err := checkEVMFunds(ctxb, client, sender, tx); err != nil {
			return nil, err
		}
		return tx, nil
	}

	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid token contract %q", token)
	}
	contract := common.HexToAddress(token)
	decimals, err := client.TokenDecimals(ctxb, contract)
	if err != nil {
		return nil, err
	}
	tokenBalance, err := client.TokenBalance(ctxb, contract, sender)
	if err != nil {
		return nil, err
	}
	have := amount.FormatBig(tokenBalance, int(decimals))
	cmp, err := amount.Compare(amt, have, int(decimals))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAmount, err)
	}
	if cmp > 0 {
		return nil, fmt.Errorf("insufficient token balance. You have %s, trying to send %s", have, amt)
	}
	tx, err := evm.BuildTokenTransfer(to, token, amt, decimals, params)
	if err != nil {
		return nil, err
	}
	if err := checkEVMFunds(ctxb, client, sender, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// checkEVMFunds rejects a transfer whose worst-case cost exceeds the sender's
// balance. Worst case is the gas limit priced at the fee cap plus the value;
// the actual charge is usually lower.
func checkEVMFunds(ctx context.Context, client *netclient.EVMClient, sender common.Address, tx *evm.Tx) error {
	balance, err := client.Balance(ctx, sender)
	if err != nil {
		return err
	}
	cost := new(big.Int).Mul(tx.MaxFeePerGas, new(big.Int).SetUint64(tx.GasLimit))
	cost.Add(cost, tx.Value)
	if balance.Cmp(cost) < 0 {
		return fmt.Errorf("insufficient ETH balance. Worst-case cost: %s ETH. You have: %s ETH",
			amount.FormatBig(cost, amount.WeiDecimals),
			amount.FormatBig(balance, amount.WeiDecimals))
	}
	return nil
}

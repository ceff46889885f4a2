package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/urfave/cli"

	"github.com/coldstar-labs/coldstar/airgap"
	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/internal/netclient"
)

const (
	confirmAttempts = 20
	confirmInterval = 3 * time.Second
)

var broadcastCommand = cli.Command{
	Name:      "broadcast",
	Category:  "Transactions",
	Usage:     "Broadcast a signed envelope (online device).",
	ArgsUsage: "envelope-file",
	Description: `
	Submits the signed transaction to the configured RPC endpoint and
	prints its identifier. With --wait the command polls until the
	transaction is confirmed on chain or the poll budget runs out.

	If the node rejects the transaction because its chain parameters
	have expired (old blockhash, reused nonce), broadcasting is not
	retried: rebuild with 'coldstar build' and sign again.
	`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "wait",
			Usage: "Poll until the transaction is confirmed.",
		},
	},
	Action: actionBroadcast,
}

func actionBroadcast(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return cli.ShowCommandHelp(ctx, "broadcast")
	}

	env, err := airgap.Load(ctx.Args().First())
	if err != nil {
		return err
	}
	raw, id, err := env.SignedBytes()
	if err != nil {
		return err
	}

	ctxb := context.Background()
	switch id {
	case chain.Solana:
		client := netclient.NewSolanaClient(ctx.GlobalString("solana-rpc"), logger)
		sig, err := client.BroadcastTx(ctxb, raw)
		if err != nil {
			return broadcastFailure(err)
		}
		fmt.Printf("Broadcast accepted.\n  Transaction: %s\n", sig)
		if ctx.Bool("wait") {
			return waitSolana(ctxb, client, sig)
		}
		return nil

	case chain.EVM:
		client, err := netclient.DialEVM(ctxb, ctx.GlobalString("evm-rpc"), logger)
		if err != nil {
			return err
		}
		defer client.Close()
		hash, err := client.BroadcastRaw(ctxb, raw)
		if err != nil {
			return broadcastFailure(err)
		}
		fmt.Printf("Broadcast accepted.\n  Transaction: %s\n", hash)
		if ctx.Bool("wait") {
			return waitEVM(ctxb, client, hash)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", chain.ErrUnknownChain, id)
	}
}

func broadcastFailure(err error) error {
	if errors.Is(err, netclient.ErrStaleParams) {
		fmt.Fprintln(os.Stderr, "Run 'coldstar build' again and re-sign on the offline device.")
	}
	return err
}

func waitSolana(ctx context.Context, client *netclient.SolanaClient, sig string) error {
	for attempt := 0; attempt < confirmAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(confirmInterval)
		}
		ok, err := client.Confirm(ctx, sig)
		if err != nil {
			return err
		}
		if ok {
			fmt.Println("Confirmed.")
			return nil
		}
	}
	return fmt.Errorf("transaction %s not confirmed after %v; check an explorer before retrying",
		sig, time.Duration(confirmAttempts)*confirmInterval)
}

func waitEVM(ctx context.Context, client *netclient.EVMClient, hash string) error {
	for attempt := 0; attempt < confirmAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(confirmInterval)
		}
		receipt, err := client.Receipt(ctx, common.HexToHash(hash))
		if err != nil {
			return err
		}
		if receipt == nil {
			continue
		}
		if receipt.Status == types.ReceiptStatusFailed {
			return fmt.Errorf("transaction %s reverted on chain", hash)
		}
		fmt.Printf("Confirmed in block %s.\n", receipt.BlockNumber)
		return nil
	}
	return fmt.Errorf("transaction %s not confirmed after %v; check an explorer before retrying",
		hash, time.Duration(confirmAttempts)*confirmInterval)
}

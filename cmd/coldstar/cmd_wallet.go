package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	solanago "github.com/gagliardetto/solana-go"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/urfave/cli"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/internal/amount"
	"github.com/coldstar-labs/coldstar/internal/config"
	"github.com/coldstar-labs/coldstar/internal/netclient"
	"github.com/coldstar-labs/coldstar/internal/securemem"
	"github.com/coldstar-labs/coldstar/internal/vault"
)

var generateCommand = cli.Command{
	Name:     "generate",
	Category: "Wallet",
	Usage:    "Create a new encrypted wallet.",
	Description: `
	Generates a fresh keypair for the selected chain and writes it to an
	encrypted wallet file. The password is read interactively and must be
	at least 8 characters.

	Run this on the offline device. The wallet file never contains the
	key in the clear.
	`,
	Action: actionGenerate,
}

func actionGenerate(ctx *cli.Context) error {
	path := walletPath(ctx)
	if newStore().Exists(path) {
		return fmt.Errorf("wallet already exists at %s; move it aside first", path)
	}
	id, err := chainID(ctx)
	if err != nil {
		return err
	}

	password, err := config.PromptNewPassword("Choose a wallet password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(password)

	address, err := newOrchestrator().GenerateWallet(path, password, id)
	if err != nil {
		return err
	}

	fmt.Println("Wallet created.")
	fmt.Printf("  Path:    %s\n", path)
	fmt.Printf("  Chain:   %s\n", id)
	fmt.Printf("  Address: %s\n", address)
	fmt.Println()
	fmt.Println("Back up this wallet now: run 'coldstar backup mnemonic'.")
	return nil
}

var infoCommand = cli.Command{
	Name:     "info",
	Category: "Wallet",
	Usage:    "Show wallet metadata, optionally with live balances.",
	Description: `
	Prints the public metadata of the wallet file: chain, address,
	creation time and KDF parameters. No password is required.

	With --balance the command queries the configured RPC endpoint for
	the native balance; --token additionally fetches the balance of one
	token (SPL mint on Solana, ERC-20 contract on EVM chains). Balance
	lookups need network access and belong on the online device.

	With --qr the address is also printed as a terminal QR code, handy
	for receiving funds from a phone wallet.
	`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "balance",
			Usage: "Fetch the native balance from the RPC endpoint.",
		},
		cli.StringFlag{
			Name:  "token",
			Usage: "Also fetch the balance of this token mint or contract.",
		},
		cli.BoolFlag{
			Name:  "qr",
			Usage: "Print the address as a terminal QR code.",
		},
	},
	Action: actionInfo,
}

func actionInfo(ctx *cli.Context) error {
	path := walletPath(ctx)
	container, err := newStore().Load(path)
	if err != nil {
		return err
	}

	fmt.Printf("Wallet:  %s\n", path)
	fmt.Printf("Chain:   %s\n", container.Chain)
	fmt.Printf("Address: %s\n", container.PublicAddress)
	fmt.Printf("Created: %s\n", container.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Format:  v%d\n", container.FormatVersion)
	fmt.Printf("KDF:     %s (m=%d KiB, t=%d, p=%d)\n",
		container.KDF.Algorithm, container.KDF.MemoryCost,
		container.KDF.TimeCost, container.KDF.Parallelism)

	if ctx.Bool("qr") {
		qr, err := qrcode.New(container.PublicAddress, qrcode.Medium)
		if err != nil {
			return fmt.Errorf("failed to generate address QR code: %w", err)
		}
		fmt.Println()
		fmt.Print(qr.ToSmallString(false))
	}

	if ctx.Bool("balance") || ctx.String("token") != "" {
		return printBalances(ctx, container)
	}
	return nil
}

func printBalances(ctx *cli.Context, container *vault.Container) error {
	ctxb := context.Background()
	token := ctx.String("token")

	switch container.Chain {
	case chain.Solana:
		client := netclient.NewSolanaClient(ctx.GlobalString("solana-rpc"), logger)
		owner, err := solanago.PublicKeyFromBase58(container.PublicAddress)
		if err != nil {
			return fmt.Errorf("invalid wallet address: %w", err)
		}
		lamports, err := client.Balance(ctxb, owner)
		if err != nil {
			return err
		}
		fmt.Printf("Balance: %s SOL\n", amount.FormatUint(lamports, amount.SolDecimals))
		if token == "" {
			return nil
		}
		mint, err := solanago.PublicKeyFromBase58(token)
		if err != nil {
			return fmt.Errorf("invalid token mint: %w", err)
		}
		decimals, err := client.TokenDecimals(ctxb, mint)
		if err != nil {
			return err
		}
		units, err := client.TokenBalance(ctxb, owner, mint)
		if err != nil {
			return err
		}
		fmt.Printf("Token:   %s (%s)\n", amount.FormatUint(units, int(decimals)), token)
		return nil

	case chain.EVM:
		client, err := netclient.DialEVM(ctxb, ctx.GlobalString("evm-rpc"), logger)
		if err != nil {
			return err
		}
		defer client.Close()
		if !common.IsHexAddress(container.PublicAddress) {
			return fmt.Errorf("invalid wallet address %q", container.PublicAddress)
		}
		addr := common.HexToAddress(container.PublicAddress)
		wei, err := client.Balance(ctxb, addr)
		if err != nil {
			return err
		}
		fmt.Printf("Balance: %s ETH\n", amount.FormatBig(wei, amount.WeiDecimals))
		if token == "" {
			return nil
		}
		if !common.IsHexAddress(token) {
			return fmt.Errorf("invalid token contract %q", token)
		}
		contract := common.HexToAddress(token)
		decimals, err := client.TokenDecimals(ctxb, contract)
		if err != nil {
			return err
		}
		units, err := client.TokenBalance(ctxb, contract, addr)
		if err != nil {
			return err
		}
		fmt.Printf("Token:   %s (%s)\n", amount.FormatBig(units, int(decimals)), token)
		return nil

	default:
		return fmt.Errorf("%w: %q", chain.ErrUnknownChain, container.Chain)
	}
}

var rotateCommand = cli.Command{
	Name:     "rotate",
	Category: "Wallet",
	Usage:    "Change the wallet password.",
	Description: `
	Re-encrypts the wallet under a new password with a fresh salt and
	nonce. The key itself does not change. The previous file is kept
	next to the wallet as a timestamped .bak copy until you delete it.
	`,
	Action: actionRotate,
}

func actionRotate(ctx *cli.Context) error {
	oldPassword, err := config.PromptPassword("Current password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(oldPassword)

	newPassword, err := config.PromptNewPassword("Choose a new password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(newPassword)

	if err := newOrchestrator().RotatePassword(walletPath(ctx), oldPassword, newPassword); err != nil {
		return err
	}
	fmt.Println("Password rotated. The previous container is kept as a .bak file; delete it once verified.")
	return nil
}

var restoreCommand = cli.Command{
	Name:     "restore",
	Category: "Wallet",
	Usage:    "Recreate a wallet from a mnemonic phrase or an encrypted backup.",
	Description: `
	Rebuilds the encrypted wallet file from one of the two backup forms:

	With --mnemonic the 24-word phrase is typed interactively and decoded
	back into the key. The phrase is echoed while you type; do this only
	on the offline device.

	With --backup FILE the portable encrypted backup is read from FILE
	and decrypted with its own backup password.

	Either way, a new wallet password is chosen for the restored file.
	`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "mnemonic",
			Usage: "Restore from a 24-word phrase entered interactively.",
		},
		cli.StringFlag{
			Name:      "backup",
			Usage:     "Restore from this encrypted backup file.",
			TakesFile: true,
		},
	},
	Action: actionRestore,
}

func actionRestore(ctx *cli.Context) error {
	path := walletPath(ctx)
	if newStore().Exists(path) {
		return fmt.Errorf("wallet already exists at %s; move it aside first", path)
	}

	fromMnemonic := ctx.Bool("mnemonic")
	backupFile := ctx.String("backup")
	if fromMnemonic == (backupFile != "") {
		return fmt.Errorf("use exactly one of --mnemonic or --backup")
	}

	if fromMnemonic {
		return restoreFromMnemonic(ctx, path)
	}
	return restoreFromBackup(ctx, path, backupFile)
}

func restoreFromMnemonic(ctx *cli.Context, path string) error {
	id, err := chainID(ctx)
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stderr, "Enter the 24-word phrase, separated by spaces:\n> ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read mnemonic: %w", err)
	}
	words := strings.TrimSpace(line)

	password, err := config.PromptNewPassword("Choose a wallet password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(password)

	address, err := newOrchestrator().RestoreFromMnemonic(path, words, password, id)
	if err != nil {
		return err
	}
	fmt.Printf("Wallet restored at %s\nAddress: %s\n", path, address)
	return nil
}

func restoreFromBackup(ctx *cli.Context, path, backupFile string) error {
	data, err := os.ReadFile(backupFile)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}

	backupPassword, err := config.PromptPassword("Backup password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(backupPassword)

	newPassword, err := config.PromptNewPassword("Choose a wallet password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(newPassword)

	address, err := newOrchestrator().RestoreFromBackup(path, data, backupPassword, newPassword)
	if err != nil {
		return err
	}
	fmt.Printf("Wallet restored at %s\nAddress: %s\n", path, address)
	return nil
}

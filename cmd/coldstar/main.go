package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/chain/evm"
	"github.com/coldstar-labs/coldstar/chain/solana"
	"github.com/coldstar-labs/coldstar/internal/config"
	"github.com/coldstar-labs/coldstar/internal/vault"
	"github.com/coldstar-labs/coldstar/signer"
)

const appVersion = "1.0.0"

// cfg and logger are initialized in main before the app runs; every
// command reads them through the helpers below.
var (
	cfg    *config.Config
	logger zerolog.Logger
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[coldstar] %v\n", err)
	os.Exit(1)
}

func newLogger(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
}

func walletPath(ctx *cli.Context) string {
	return ctx.GlobalString("wallet")
}

func chainID(ctx *cli.Context) (chain.ID, error) {
	return chain.ParseID(ctx.GlobalString("chain"))
}

func newStore() *vault.Store {
	return vault.NewStore(logger)
}

func newOrchestrator() *signer.Orchestrator {
	registry := chain.NewRegistry(solana.NewAdapter(), evm.NewAdapter())
	return signer.New(newStore(), registry, cfg.MemoryMode(), logger)
}

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fatal(err)
	}
	logger = newLogger(cfg.LogLevel)

	app := cli.NewApp()
	app.Name = "coldstar"
	app.Version = appVersion
	app.Usage = "air-gapped cold wallet for Solana and EVM chains"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "wallet, w",
			Value:     cfg.WalletPath,
			Usage:     "Path to the encrypted wallet container.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:  "chain, c",
			Value: cfg.Chain,
			Usage: "Chain family: solana, evm, base, base-sepolia, ethereum.",
		},
		cli.StringFlag{
			Name:  "solana-rpc",
			Value: cfg.SolanaRPCURL,
			Usage: "Solana RPC endpoint, used by online commands only.",
		},
		cli.StringFlag{
			Name:  "evm-rpc",
			Value: cfg.EVMRPCURL,
			Usage: "EVM RPC endpoint, used by online commands only.",
		},
	}
	app.Commands = []cli.Command{
		generateCommand,
		infoCommand,
		buildCommand,
		signCommand,
		broadcastCommand,
		rotateCommand,
		backupCommand,
		restoreCommand,
		qrCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

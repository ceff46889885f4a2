package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/coldstar-labs/coldstar/airgap"
	"github.com/coldstar-labs/coldstar/internal/config"
	"github.com/coldstar-labs/coldstar/internal/securemem"
)

var signCommand = cli.Command{
	Name:      "sign",
	Category:  "Transactions",
	Usage:     "Sign an unsigned envelope (offline device).",
	ArgsUsage: "envelope-file",
	Description: `
	Decodes the unsigned envelope, shows what it actually pays and to
	whom, and signs it with the wallet key after confirmation. The
	summary is derived from the payload bytes, not from any metadata, so
	what you confirm is what gets signed.

	The signed envelope is written to --out for transfer back to the
	online device. The key is decrypted only for the duration of the
	signature and wiped afterwards.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:      "out",
			Value:     "signed-tx.json",
			Usage:     "Signed envelope output path.",
			TakesFile: true,
		},
		cli.BoolFlag{
			Name:  "yes",
			Usage: "Skip the interactive confirmation.",
		},
		cli.BoolFlag{
			Name:  "show-qr",
			Usage: "Also print the signed envelope as a terminal QR code.",
		},
	},
	Action: actionSign,
}

func actionSign(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return cli.ShowCommandHelp(ctx, "sign")
	}

	env, err := airgap.Load(ctx.Args().First())
	if err != nil {
		return err
	}

	orch := newOrchestrator()
	summary, err := orch.DescribeEnvelope(env)
	if err != nil {
		return err
	}

	fmt.Println("About to sign:")
	fmt.Printf("  Chain:  %s\n", summary.Chain)
	fmt.Printf("  To:     %s\n", summary.To)
	fmt.Printf("  Amount: %s %s\n", summary.Amount, summary.Asset)
	if summary.Detail != "" {
		fmt.Printf("  Detail: %s\n", summary.Detail)
	}

	if !ctx.Bool("yes") {
		ok, err := confirm("Sign this transaction? [y/N]: ")
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("aborted")
		}
	}

	password, err := config.PromptPassword("Wallet password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(password)

	signed, err := orch.SignEnvelope(walletPath(ctx), password, env)
	if err != nil {
		return err
	}

	out := ctx.String("out")
	if err := airgap.Save(signed, out); err != nil {
		return err
	}
	fmt.Printf("Signed envelope written to %s\n", out)
	fmt.Printf("Move it to the online device and run 'coldstar broadcast %s'.\n", out)

	if ctx.Bool("show-qr") {
		return printTerminalQR(signed)
	}
	return nil
}

// confirm reads one line from stdin and accepts y or yes, case-insensitive.
func confirm(prompt string) (bool, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

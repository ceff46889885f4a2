package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/coldstar-labs/coldstar/internal/config"
	"github.com/coldstar-labs/coldstar/internal/securemem"
)

var backupCommand = cli.Command{
	Name:     "backup",
	Category: "Wallet",
	Usage:    "Export the wallet key in one of three recovery forms.",
	Description: `
	All backup forms require the wallet password and belong on the
	offline device. Choose the form that matches how you store it:

	mnemonic  24 words to write on paper, restorable with 'restore --mnemonic'.
	export    an encrypted file for digital storage, restorable with 'restore --backup'.
	paper     a printable HTML sheet carrying the address and the key as QR codes.
	`,
	Subcommands: []cli.Command{
		backupMnemonicCommand,
		backupExportCommand,
		backupPaperCommand,
	},
}

var backupMnemonicCommand = cli.Command{
	Name:  "mnemonic",
	Usage: "Show the wallet key as a 24-word phrase.",
	Description: `
	Decrypts the wallet and prints its key as 24 words. The words are
	shown once and not stored anywhere.
	`,
	Action: actionBackupMnemonic,
}

func actionBackupMnemonic(ctx *cli.Context) error {
	password, err := config.PromptPassword("Wallet password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(password)

	words, err := newOrchestrator().ExportMnemonic(walletPath(ctx), password)
	if err != nil {
		return err
	}

	fmt.Println("These 24 words ARE the key. Anyone who reads them can spend the funds.")
	fmt.Println("Write them on paper. Never photograph them or type them into an online device.")
	fmt.Println()
	printNumberedWords(words)
	return nil
}

var backupExportCommand = cli.Command{
	Name:  "export",
	Usage: "Write an encrypted, portable backup file.",
	Description: `
	Exports the key re-encrypted under a separate backup password, so
	the file can live on a USB stick or in digital storage without
	exposing the wallet password. Restore with 'coldstar restore
	--backup FILE'.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:      "out",
			Value:     "coldstar-backup.json",
			Usage:     "Backup output path.",
			TakesFile: true,
		},
	},
	Action: actionBackupExport,
}

func actionBackupExport(ctx *cli.Context) error {
	password, err := config.PromptPassword("Wallet password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(password)

	backupPassword, err := config.PromptNewPassword("Choose a backup password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(backupPassword)

	data, err := newOrchestrator().ExportBackup(walletPath(ctx), password, backupPassword)
	if err != nil {
		return err
	}

	out := ctx.String("out")
	if err := os.WriteFile(out, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	fmt.Printf("Encrypted backup written to %s\n", out)
	fmt.Println("Restore it with 'coldstar restore --backup' and the backup password.")
	return nil
}

var backupPaperCommand = cli.Command{
	Name:  "paper",
	Usage: "Write a printable paper wallet sheet.",
	Description: `
	Renders an HTML sheet with the public address and the private key,
	each as text and as a QR code. The sheet contains the key in the
	clear: print it, store the page somewhere safe, then delete the
	file.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:      "out",
			Value:     "paper-wallet.html",
			Usage:     "Sheet output path.",
			TakesFile: true,
		},
	},
	Action: actionBackupPaper,
}

func actionBackupPaper(ctx *cli.Context) error {
	password, err := config.PromptPassword("Wallet password: ")
	if err != nil {
		return err
	}
	defer securemem.Zero(password)

	out := ctx.String("out")
	f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}

	if err := newOrchestrator().WritePaperWallet(walletPath(ctx), password, f); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(out)
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	fmt.Printf("Paper wallet written to %s\n", out)
	fmt.Println("Print it, then delete the file.")
	return nil
}

func printNumberedWords(words string) {
	list := strings.Fields(words)
	for i, w := range list {
		fmt.Printf("%2d. %-15s", i+1, w)
		if (i+1)%4 == 0 {
			fmt.Println()
		}
	}
	if len(list)%4 != 0 {
		fmt.Println()
	}
}

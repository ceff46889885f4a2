package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/coldstar-labs/coldstar/airgap"
)

var qrCommand = cli.Command{
	Name:      "qr",
	Category:  "Transactions",
	Usage:     "Render an envelope file as a QR code.",
	ArgsUsage: "envelope-file",
	Description: `
	Renders an unsigned or signed envelope as a QR code, either in the
	terminal or as a PNG with --out. Envelopes larger than the QR
	capacity are rejected; move those as files instead.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:      "out",
			Usage:     "Write a PNG to this path instead of drawing in the terminal.",
			TakesFile: true,
		},
		cli.IntFlag{
			Name:  "size",
			Value: airgap.DefaultQRSize,
			Usage: "PNG width in pixels.",
		},
	},
	Action: actionQR,
}

func actionQR(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return cli.ShowCommandHelp(ctx, "qr")
	}

	env, err := airgap.Load(ctx.Args().First())
	if err != nil {
		return err
	}

	if out := ctx.String("out"); out != "" {
		if err := env.WriteQRPNG(out, ctx.Int("size")); err != nil {
			return err
		}
		fmt.Printf("QR code written to %s\n", out)
		return nil
	}
	return printTerminalQR(env)
}

func printTerminalQR(env *airgap.Envelope) error {
	art, err := env.TerminalQR()
	if err != nil {
		return err
	}
	fmt.Print(art)
	return nil
}

package backup

import (
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/mr-tron/base58"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/internal/vault"
)

// PaperWallet writes a printable HTML sheet: public address on top, the
// secret below a fold line, both as QR codes. The secret also rides as
// base58 text so it can be re-typed by hand if the QR is damaged.
func PaperWallet(w io.Writer, chainID chain.ID, address string, secret []byte) error {
	if len(secret) != vault.SecretLen {
		return fmt.Errorf("secret must be %d bytes, got %d", vault.SecretLen, len(secret))
	}

	secretText := base58.Encode(secret)

	addressQR, err := qrDataURI(address)
	if err != nil {
		return err
	}
	secretQR, err := qrDataURI(secretText)
	if err != nil {
		return err
	}

	return paperTemplate.Execute(w, paperData{
		ChainName: chainName(chainID),
		Address:   address,
		AddressQR: addressQR,
		Secret:    secretText,
		SecretQR:  secretQR,
		Generated: time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
	})
}

func chainName(id chain.ID) string {
	switch id {
	case chain.Solana:
		return "Solana"
	case chain.EVM:
		return "EVM"
	default:
		return string(id)
	}
}

func qrDataURI(content string) (template.URL, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate PNG: %w", err)
	}
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)), nil
}

type paperData struct {
	ChainName string
	Address   string
	AddressQR template.URL
	Secret    string
	SecretQR  template.URL
	Generated string
}

var paperTemplate = template.Must(template.New("paper").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Coldstar Paper Wallet</title>
    <style>
        body {
            font-family: 'Courier New', monospace;
            max-width: 800px;
            margin: 0 auto;
            padding: 40px;
            background: #fff;
        }
        .header {
            text-align: center;
            border-bottom: 3px solid #000;
            padding-bottom: 20px;
            margin-bottom: 30px;
        }
        .section {
            margin: 30px 0;
            padding: 20px;
            border: 2px solid #000;
        }
        .qr-container {
            text-align: center;
            margin: 20px 0;
        }
        .qr-container img {
            max-width: 250px;
        }
        .address {
            word-break: break-all;
            font-size: 14px;
            background: #f0f0f0;
            padding: 10px;
            margin: 10px 0;
        }
        .warning {
            background: #fff3cd;
            border: 2px solid #ffc107;
            padding: 15px;
            margin: 20px 0;
        }
        .fold-line {
            border-top: 2px dashed #ccc;
            margin: 40px 0;
            text-align: center;
        }
        .fold-line::before {
            content: 'FOLD HERE - KEEP PRIVATE KEY HIDDEN';
            background: #fff;
            padding: 0 20px;
            position: relative;
            top: -12px;
            color: #999;
        }
        @media print {
            .no-print { display: none; }
        }
    </style>
</head>
<body>
    <div class="header">
        <h1>COLDSTAR PAPER WALLET</h1>
        <p>{{.ChainName}} Cold Storage</p>
        <p style="font-size: 12px;">Generated: {{.Generated}}</p>
    </div>

    <div class="section">
        <h2>PUBLIC ADDRESS (Share this to receive funds)</h2>
        <div class="qr-container">
            <img src="{{.AddressQR}}" alt="Public Address QR">
        </div>
        <div class="address">{{.Address}}</div>
    </div>

    <div class="fold-line"></div>

    <div class="section" style="background: #ffe6e6;">
        <h2>PRIVATE KEY (NEVER SHARE!)</h2>
        <div class="warning">
            <strong>WARNING:</strong> Anyone with this key can steal all your funds!
            Keep this hidden, secure, and never photograph or share it.
        </div>
        <div class="qr-container">
            <img src="{{.SecretQR}}" alt="Private Key QR">
        </div>
        <div class="address" style="font-size: 10px;">{{.Secret}}</div>
    </div>

    <div class="section no-print">
        <h3>Instructions:</h3>
        <ol>
            <li>Print this page on a secure, offline printer</li>
            <li>Fold along the dashed line to hide the private key</li>
            <li>Store in a fireproof safe or safety deposit box</li>
            <li>Consider making multiple copies stored in different locations</li>
            <li>Delete this file securely after printing</li>
        </ol>
    </div>
</body>
</html>
`))

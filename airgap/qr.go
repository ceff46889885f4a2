package airgap

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultQRSize is the pixel width of saved QR images.
const DefaultQRSize = 512

// qrText renders the envelope and enforces the QR capacity ceiling.
func (e *Envelope) qrText() (string, error) {
	data, err := e.Marshal()
	if err != nil {
		return "", err
	}
	if len(data) > QRCapacity {
		return "", &CapacityError{Size: len(data), Limit: QRCapacity}
	}
	return string(data), nil
}

// QRPNG renders the envelope as a PNG image. Low error correction keeps the
// module count down for dense transaction payloads.
func (e *Envelope) QRPNG(size int) ([]byte, error) {
	text, err := e.qrText()
	if err != nil {
		return nil, err
	}

	qr, err := qrcode.New(text, qrcode.Low)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	png, err := qr.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PNG: %w", err)
	}
	return png, nil
}

// WriteQRPNG saves the envelope as a QR image file.
func (e *Envelope) WriteQRPNG(path string, size int) error {
	text, err := e.qrText()
	if err != nil {
		return err
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	if err := qrcode.WriteFile(text, qrcode.Low, size, path); err != nil {
		return fmt.Errorf("failed to write QR image: %w", err)
	}
	return nil
}

// TerminalQR renders the envelope as block characters for terminal display,
// the transfer path that needs no camera on the signer side.
func (e *Envelope) TerminalQR() (string, error) {
	text, err := e.qrText()
	if err != nil {
		return "", err
	}

	qr, err := qrcode.New(text, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}

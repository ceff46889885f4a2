// Package solana builds and signs Solana transfer transactions offline.
// Chain parameters (recent blockhash) are snapshots fetched by the online
// device and passed in; nothing here touches the network.
package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/internal/amount"
	"github.com/coldstar-labs/coldstar/internal/securemem"
)

// system program transfer discriminator and token program TransferChecked tag,
// used when summarizing a decoded payload for user confirmation
const (
	systemTransferIndex  = 2
	tokenTransferChecked = 12
)

// BuildParams is the network snapshot a transfer is bound to. The blockhash
// expires after a bounded validity window; broadcasting after that fails and
// requires a rebuild.
type BuildParams struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// Tx is an unsigned Solana transaction. Immutable once built; Sign works on
// a decoded copy, never on the original.
type Tx struct {
	tx      *solana.Transaction
	summary chain.Summary
}

func (t *Tx) Chain() chain.ID { return chain.Solana }

// Payload returns the full wire-serialized transaction with empty signature
// slots, the format carried across the air gap.
func (t *Tx) Payload() ([]byte, error) {
	data, err := t.tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return data, nil
}

func (t *Tx) Summary() chain.Summary { return t.summary }

// Signed is a fully signed transaction ready for broadcast.
type Signed struct {
	raw []byte
	sig solana.Signature
}

func (s *Signed) Chain() chain.ID { return chain.Solana }
func (s *Signed) Bytes() []byte   { return s.raw }

// Signature returns the base58 transaction signature, which doubles as the
// transaction id on Solana.
func (s *Signed) Signature() string { return s.sig.String() }

// BuildTransfer creates an unsigned SOL transfer bound to the given blockhash.
func BuildTransfer(from, to, amountSOL string, p BuildParams) (*Tx, error) {
	fromPubkey, err := solana.PublicKeyFromBase58(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAddress, err)
	}
	toPubkey, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAddress, err)
	}

	lamports, err := amount.ParseUint(amountSOL, amount.SolDecimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAmount, err)
	}
	if lamports == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", chain.ErrInvalidAmount)
	}

	transferInstruction := system.NewTransferInstruction(
		lamports,
		fromPubkey,
		toPubkey,
	).Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{transferInstruction},
		p.Blockhash,
		solana.TransactionPayer(fromPubkey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return &Tx{
		tx: tx,
		summary: chain.Summary{
			Chain:  chain.Solana,
			To:     to,
			Amount: amount.FormatUint(lamports, amount.SolDecimals),
			Asset:  "SOL",
			Detail: fmt.Sprintf("blockhash %s", p.Blockhash),
		},
	}, nil
}

// BuildTokenTransfer creates an unsigned SPL token transfer. When the
// recipient has no associated token account yet, createRecipientAccount adds
// the create instruction in front of the transfer; the sender pays the rent.
func BuildTokenTransfer(from, to, mint, amountTokens string, decimals uint8, createRecipientAccount bool, p BuildParams) (*Tx, error) {
	fromPubkey, err := solana.PublicKeyFromBase58(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAddress, err)
	}
	toPubkey, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAddress, err)
	}
	mintPubkey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid mint: %v", chain.ErrInvalidAddress, err)
	}

	units, err := amount.ParseUint(amountTokens, int(decimals))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrInvalidAmount, err)
	}
	if units == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", chain.ErrInvalidAmount)
	}

	sourceTokenAccount, _, err := solana.FindAssociatedTokenAddress(fromPubkey, mintPubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to find source token account address: %w", err)
	}
	destTokenAccount, _, err := solana.FindAssociatedTokenAddress(toPubkey, mintPubkey)
	if err != nil {
		return nil, fmt.Errorf("failed to find destination token account: %w", err)
	}

	instructions := make([]solana.Instruction, 0, 2)
	if createRecipientAccount {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(
			fromPubkey, // payer
			toPubkey,   // owner
			mintPubkey, // mint
		).Build())
	}
	instructions = append(instructions, token.NewTransferCheckedInstruction(
		units,
		decimals,
		sourceTokenAccount,
		mintPubkey,
		destTokenAccount,
		fromPubkey,
		[]solana.PublicKey{},
	).Build())

	tx, err := solana.NewTransaction(
		instructions,
		p.Blockhash,
		solana.TransactionPayer(fromPubkey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return &Tx{
		tx: tx,
		summary: chain.Summary{
			Chain:  chain.Solana,
			To:     to,
			Amount: amount.FormatUint(units, int(decimals)),
			Asset:  mint,
			Detail: fmt.Sprintf("SPL transfer, blockhash %s", p.Blockhash),
		},
	}, nil
}

// Adapter implements chain.Adapter for Solana.
type Adapter struct{}

func NewAdapter() *Adapter { return &Adapter{} }

func (a *Adapter) ID() chain.ID { return chain.Solana }

// GenerateSecret returns a fresh Ed25519 seed.
func (a *Adapter) GenerateSecret() ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	return seed, nil
}

// DecodeUnsigned parses a wire-serialized transaction received across the
// air gap. The summary shown to the user comes from the parsed bytes, not
// from anything the online device claimed.
func (a *Adapter) DecodeUnsigned(payload []byte) (chain.UnsignedTx, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return &Tx{tx: tx, summary: describe(tx)}, nil
}

// Sign signs the transaction with the Ed25519 seed held in buf. The expanded
// private key exists only for the duration of the call.
func (a *Adapter) Sign(utx chain.UnsignedTx, buf *securemem.Buffer) (chain.SignedTx, error) {
	if utx.Chain() != chain.Solana {
		return nil, fmt.Errorf("%w: wrong chain %q", chain.ErrSigning, utx.Chain())
	}
	if buf.Len() != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes", chain.ErrSigning, ed25519.SeedSize)
	}

	// sign a decoded copy so the unsigned transaction stays immutable
	payload, err := utx.Payload()
	if err != nil {
		return nil, err
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrSigning, err)
	}

	privateKey := solana.PrivateKey(ed25519.NewKeyFromSeed(buf.Bytes()))
	defer securemem.Zero(privateKey)

	// drop placeholder signature slots some writers serialize
	tx.Signatures = nil
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if privateKey.PublicKey().Equals(key) {
			return &privateKey
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrSigning, err)
	}

	if len(tx.Signatures) == 0 {
		return nil, fmt.Errorf("%w: no signature produced", chain.ErrSigning)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chain.ErrSigning, err)
	}
	return &Signed{raw: raw, sig: tx.Signatures[0]}, nil
}

// DeriveAddress expands the seed and returns the base58 public key.
func (a *Adapter) DeriveAddress(secret []byte) (string, error) {
	if len(secret) != ed25519.SeedSize {
		return "", fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(secret))
	}
	privateKey := ed25519.NewKeyFromSeed(secret)
	defer securemem.Zero(privateKey)

	pub := privateKey.Public().(ed25519.PublicKey)
	return solana.PublicKeyFromBytes(pub).String(), nil
}

func (a *Adapter) ValidateAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("%w: %v", chain.ErrInvalidAddress, err)
	}
	return nil
}

// describe extracts transfer details from a decoded message for the signing
// prompt. Unknown instructions leave amount empty; the user still sees the
// fee payer, blockhash and instruction count.
func describe(tx *solana.Transaction) chain.Summary {
	msg := &tx.Message
	sum := chain.Summary{
		Chain:  chain.Solana,
		Asset:  "SOL",
		Detail: fmt.Sprintf("%d instruction(s), blockhash %s", len(msg.Instructions), msg.RecentBlockhash),
	}

	for _, ci := range msg.Instructions {
		if int(ci.ProgramIDIndex) >= len(msg.AccountKeys) {
			continue
		}
		program := msg.AccountKeys[ci.ProgramIDIndex]
		data := []byte(ci.Data)

		switch {
		case program.Equals(solana.SystemProgramID) &&
			len(data) >= 12 && binary.LittleEndian.Uint32(data[:4]) == systemTransferIndex:
			if len(ci.Accounts) >= 2 && int(ci.Accounts[1]) < len(msg.AccountKeys) {
				sum.To = msg.AccountKeys[ci.Accounts[1]].String()
			}
			sum.Amount = amount.FormatUint(binary.LittleEndian.Uint64(data[4:12]), amount.SolDecimals)
			sum.Asset = "SOL"
			return sum

		case program.Equals(solana.TokenProgramID) &&
			len(data) >= 10 && data[0] == tokenTransferChecked:
			units := binary.LittleEndian.Uint64(data[1:9])
			decimals := int(data[9])
			if len(ci.Accounts) >= 3 {
				if int(ci.Accounts[1]) < len(msg.AccountKeys) {
					sum.Asset = msg.AccountKeys[ci.Accounts[1]].String() // mint
				}
				if int(ci.Accounts[2]) < len(msg.AccountKeys) {
					sum.To = msg.AccountKeys[ci.Accounts[2]].String() // destination token account
				}
			}
			sum.Amount = amount.FormatUint(units, decimals)
			return sum
		}
	}
	return sum
}

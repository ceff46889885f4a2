// Package config loads runtime settings from environment variables and
// prompts for passwords on the terminal. Nothing outside this package
// reads the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/term"

	"github.com/coldstar-labs/coldstar/chain"
	"github.com/coldstar-labs/coldstar/internal/securemem"
)

// Config contains all configuration parameters for the CLI. Command flags
// may override individual fields after Load.
type Config struct {
	WalletPath          string `envconfig:"COLDSTAR_WALLET_PATH" default:"coldstar-wallet.json"`
	Chain               string `envconfig:"COLDSTAR_CHAIN" default:"solana"`
	SolanaRPCURL        string `envconfig:"COLDSTAR_SOLANA_RPC_URL" default:"https://api.mainnet-beta.solana.com"`
	EVMRPCURL           string `envconfig:"COLDSTAR_EVM_RPC_URL" default:"https://mainnet.base.org"`
	LogLevel            string `envconfig:"COLDSTAR_LOG_LEVEL" default:"info"`
	AllowUnlockedMemory bool   `envconfig:"COLDSTAR_ALLOW_UNLOCKED_MEMORY" default:"false"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return cfg, nil
}

// MemoryMode maps the unlocked-memory override to a securemem mode.
// Strict is the default: key buffers that cannot be locked into RAM fail
// instead of silently risking a swap to disk.
func (c *Config) MemoryMode() securemem.Mode {
	if c.AllowUnlockedMemory {
		return securemem.Permissive
	}
	return securemem.Strict
}

// ChainID resolves the configured chain name.
func (c *Config) ChainID() (chain.ID, error) {
	return chain.ParseID(c.Chain)
}

// PromptPassword reads a password from the terminal without echoing it.
// The caller owns the returned bytes and must zero them after use.
func PromptPassword(prompt string) ([]byte, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("stdin is not a terminal: run interactively to enter the password")
	}
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("password cannot be empty")
	}
	return raw, nil
}

// PromptNewPassword prompts twice and requires both entries to match, for
// wallet creation and password rotation.
func PromptNewPassword(prompt string) ([]byte, error) {
	first, err := PromptPassword(prompt)
	if err != nil {
		return nil, err
	}
	second, err := PromptPassword("Confirm password: ")
	if err != nil {
		securemem.Zero(first)
		return nil, err
	}
	defer securemem.Zero(second)

	if !bytes.Equal(first, second) {
		securemem.Zero(first)
		return nil, errors.New("passwords do not match")
	}
	return first, nil
}

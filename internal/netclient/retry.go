// Package netclient holds the RPC collaborators used by the online device.
// Nothing in this package ever touches key material: clients read chain
// state needed to build unsigned transactions and broadcast fully signed
// bytes produced on the air-gapped side.
package netclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const retryAttempts = 3

// retryDelay is a variable so tests can shorten it.
var retryDelay = 2 * time.Second

var (
	// ErrNetwork wraps RPC failures that persisted through all retry
	// attempts.
	ErrNetwork = errors.New("network unavailable")

	// ErrStaleParams marks a broadcast rejected because the chain
	// parameters baked into the signed transaction (blockhash, nonce)
	// expired while it crossed the air gap. The transaction must be
	// rebuilt and re-signed; retrying the same bytes cannot succeed.
	ErrStaleParams = errors.New("chain parameters expired; rebuild and re-sign the transaction")
)

// staleMarkers are substrings of node error messages that indicate the
// signed transaction references expired chain state.
var staleMarkers = []string{
	"blockhash not found",
	"block height exceeded",
	"nonce too low",
	"replacement transaction underpriced",
}

// knownMarkers indicate the node already holds this exact transaction,
// which happens when a broadcast response is lost and the call retried.
var knownMarkers = []string{
	"already known",
	"already been processed",
}

func isStaleError(err error) bool {
	return containsAny(err, staleMarkers)
}

func isAlreadyKnownError(err error) bool {
	return containsAny(err, knownMarkers)
}

func containsAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// withRetry runs fn up to retryAttempts times with a fixed delay between
// attempts. ErrStaleParams and context cancellation abort immediately:
// the first cannot be cured by retrying and the second means the caller
// gave up. The final failure is wrapped in ErrNetwork.
func withRetry(ctx context.Context, log zerolog.Logger, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrStaleParams) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if attempt < retryAttempts {
			log.Warn().
				Err(err).
				Str("op", op).
				Int("attempt", attempt).
				Msg("rpc call failed, retrying")
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, lastErr)
}

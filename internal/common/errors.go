// Package common defines shared constants and sentinel errors used across
// the engine's layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// API-level errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrTokenExpired = errors.New("token expired")

	// ErrStaleBuild indicates the running client build no longer matches the
	// deployed server assets. It is a distinct class from transient network
	// failures: the only recovery is a full reload, never a retry.
	ErrStaleBuild = errors.New("stale client build")

	// Decryption errors.
	ErrDecryptFailed         = errors.New("decryption failed")
	ErrUnsupportedCiphertext = errors.New("unsupported ciphertext version")
	ErrRatchetOutOfOrder     = errors.New("ratchet message out of order")

	// ErrMissingSequence is reported when fetched messages carry no sequence
	// numbers (pre-migration server data). Handled by a one-shot refetch.
	ErrMissingSequence = errors.New("missing sequence numbers")

	// ErrClosed is returned by operations on a conversation engine that has
	// already been shut down.
	ErrClosed = errors.New("conversation engine closed")
)

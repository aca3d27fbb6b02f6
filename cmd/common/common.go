// Package common provides shared utilities for the arena commands.
//
//   - Configuration loading (YAML with defaults) and logger construction
//   - Moderator key loading and generation
//   - Token secret derivation
package common

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/flashbots/inbox-arena/crypto"
)

// LoadOrGenerateSigningKey loads an Ed25519 private key from a hex string,
// or generates a new key pair if hexKey is empty. Both 32-byte seeds and
// 64-byte private keys are accepted.
func LoadOrGenerateSigningKey(hexKey string) (crypto.PrivateKey, error) {
	if hexKey != "" {
		keyBytes, err := hex.DecodeString(strings.TrimSpace(hexKey))
		if err != nil {
			return nil, fmt.Errorf("invalid hex: %w", err)
		}
		switch len(keyBytes) {
		case 32:
			return crypto.NewPrivateKeyFromSeed(keyBytes)
		case 64:
			return crypto.NewPrivateKeyFromBytes(keyBytes), nil
		default:
			return nil, fmt.Errorf("signing key must be 32 or 64 bytes, got %d", len(keyBytes))
		}
	}
	_, privKey, err := crypto.GenerateKeyPair()
	return privKey, err
}

// LoadKeyFile reads a hex-encoded signing key from path.
func LoadKeyFile(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	hexKey := strings.TrimSpace(string(data))
	if hexKey == "" {
		return nil, fmt.Errorf("key file %s is empty", path)
	}
	return LoadOrGenerateSigningKey(hexKey)
}

// TokenSecret returns the configured credential secret, or derives one from
// the moderator key so restarts with the same key keep tokens valid.
func TokenSecret(configured string, moderator crypto.PrivateKey) ([]byte, error) {
	if configured != "" {
		if len(configured) < 32 {
			return nil, fmt.Errorf("token secret must be at least 32 bytes")
		}
		return []byte(configured), nil
	}
	return crypto.DeriveKey(moderator.Seed(), []byte("inbox-arena"), "token secret", 32)
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler).With("service", cfg.Service), nil
}

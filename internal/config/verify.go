package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	minisign "github.com/jedisct1/go-minisign"
)

// SignatureSuffix is appended to the config path to locate its detached
// minisign signature.
const SignatureSuffix = ".minisig"

// Verifier checks config contents against a detached minisign signature
// made with the operator's key.
type Verifier struct {
	publicKey minisign.PublicKey
}

// NewVerifier parses a minisign public key (including its comment header).
func NewVerifier(pubKey string) (*Verifier, error) {
	pubKey = strings.TrimSpace(pubKey)
	if pubKey == "" {
		return nil, errors.New("minisign public key is required")
	}
	publicKey, err := minisign.DecodePublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("parse minisign public key: %w", err)
	}
	return &Verifier{publicKey: publicKey}, nil
}

// NewVerifierFromFile reads the public key from path.
func NewVerifierFromFile(path string) (*Verifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %q: %w", path, err)
	}
	return NewVerifier(string(data))
}

// Verify validates data against the signature stored at signaturePath.
func (v *Verifier) Verify(ctx context.Context, data []byte, signaturePath string) error {
	if v == nil {
		return errors.New("signature verifier not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(signaturePath) == "" {
		return errors.New("signature path is required")
	}

	signatureBytes, err := os.ReadFile(signaturePath)
	if err != nil {
		return fmt.Errorf("read signature %q: %w", signaturePath, err)
	}
	signature, err := minisign.DecodeSignature(string(signatureBytes))
	if err != nil {
		return fmt.Errorf("decode signature %q: %w", signaturePath, err)
	}
	ok, err := v.publicKey.Verify(data, signature)
	if err != nil {
		return fmt.Errorf("verify signature %q: %w", signaturePath, err)
	}
	if !ok {
		return errors.New("signature verification failed")
	}
	return nil
}

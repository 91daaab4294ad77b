package backup

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"filesafe/internal/config"
)

// AgeCodec encrypts and decrypts backup content using filippo.io/age with
// X25519 keys. The recipient string lives in the config; the identity file
// holds the matching private key and is only needed for Restore.
type AgeCodec struct {
	recipient    age.Recipient
	identityPath string
}

// NewAgeCodec creates an AgeCodec from configuration.
func NewAgeCodec(cfg config.EncryptionConfig) (*AgeCodec, error) {
	recipient, err := age.ParseX25519Recipient(cfg.Recipient)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient: %w", err)
	}
	return &AgeCodec{
		recipient:    recipient,
		identityPath: cfg.IdentityPath,
	}, nil
}

// Encrypt reads plaintext from r and writes age-encrypted ciphertext to w.
func (c *AgeCodec) Encrypt(r io.Reader, w io.Writer) error {
	encWriter, err := age.Encrypt(w, c.recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Decrypt reads age-encrypted ciphertext from r and writes plaintext to w
// using the identity file.
func (c *AgeCodec) Decrypt(r io.Reader, w io.Writer) error {
	keyData, err := os.ReadFile(c.identityPath)
	if err != nil {
		return fmt.Errorf("reading identity file: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return fmt.Errorf("parsing identity file: %w", err)
	}
	if len(identities) == 0 {
		return fmt.Errorf("no identities found in %s", c.identityPath)
	}

	decReader, err := age.Decrypt(r, identities...)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}

// GenerateIdentity creates a new X25519 key pair, writes the identity to
// identityPath, and returns the recipient string for the config file.
func GenerateIdentity(identityPath string) (string, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(identityPath), 0700); err != nil {
		return "", fmt.Errorf("creating identity directory: %w", err)
	}
	if err := os.WriteFile(identityPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return "", fmt.Errorf("writing identity file: %w", err)
	}

	return identity.Recipient().String(), nil
}

package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	saltSize         = 16
)

// FileLoader reads PEM material from the local filesystem. If Passphrase is
// set, the file is expected to hold "<base64 salt>:<base64 nonce+ciphertext>"
// as produced by EncryptPEMFile, and is decrypted with a PBKDF2-derived key.
type FileLoader struct {
	PrivateKeyPath string
	PublicKeyPath  string
	Passphrase     string
}

func (f *FileLoader) LoadPrivateKeyPEM(ctx context.Context) ([]byte, error) {
	if f.PrivateKeyPath == "" {
		return nil, errors.New("keystore: no private key path configured")
	}
	return f.read(f.PrivateKeyPath)
}

func (f *FileLoader) LoadPublicKeyPEM(ctx context.Context) ([]byte, error) {
	if f.PublicKeyPath == "" {
		return nil, errors.New("keystore: no public key path configured")
	}
	return f.read(f.PublicKeyPath)
}

func (f *FileLoader) read(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}
	if f.Passphrase == "" {
		return raw, nil
	}
	return decryptPEM(raw, f.Passphrase)
}

// EncryptPEMFile encrypts pem with a key derived from passphrase via
// PBKDF2-HMAC-SHA256, suitable for writing to disk and later read back by
// FileLoader.
func EncryptPEMFile(pem []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}
	key := deriveKey(passphrase, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keystore: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, pem, nil)

	out := base64.StdEncoding.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(ciphertext)
	return []byte(out), nil
}

func decryptPEM(raw []byte, passphrase string) ([]byte, error) {
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return nil, errors.New("keystore: malformed encrypted key file")
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("keystore: decode salt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("keystore: decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("keystore: ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("keystore: decrypt (wrong passphrase?): %w", err)
	}
	return plain, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
}

package store

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// EncryptionKeyEnvVar is the environment variable for the document
	// encryption key.
	EncryptionKeyEnvVar = "ACTIONGRAPH_STORE_ENCRYPTION_KEY"

	encryptedMagic  = "#ACTIONGRAPH_ENCRYPTED"
	envelopeVersion = "v1"
	keyIDBytes      = 8
)

var (
	// ErrKeyMismatch is returned when a document was sealed with a
	// different encryption key than the configured one.
	ErrKeyMismatch = errors.New("document encrypted with a different key")

	// ErrDocumentMismatch is returned when a sealed document is read
	// under a store key other than the one it was written to, e.g. a
	// captured linux/pic subgraph copied over darwin/nopic.
	ErrDocumentMismatch = errors.New("document does not belong to this store key")
)

// EncryptDocument seals content with AES-256-GCM using the key from the
// environment. The envelope header names the key by fingerprint and the
// store key is bound in as additional data. Without a key the content is
// returned unchanged.
func EncryptDocument(name string, content []byte) ([]byte, error) {
	key := encryptionKey()
	if key == nil {
		return content, nil
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	header := envelopeHeader(keyID(key))
	ciphertext := gcm.Seal(nonce, nonce, content, additionalData(header, name))
	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	return []byte(header + "\n" + encoded + "\n"), nil
}

// DecryptDocument opens content produced by EncryptDocument for the same
// store key. Plain content is returned unchanged.
func DecryptDocument(name string, content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	header, body, _ := bytes.Cut(content, []byte("\n"))
	fields := strings.Fields(string(header))
	if len(fields) != 3 || fields[1] != envelopeVersion {
		return nil, fmt.Errorf("unsupported encrypted document header %q", header)
	}
	wantID := fields[2]

	key := encryptionKey()
	if key == nil {
		return nil, fmt.Errorf("document is encrypted but %s is not set", EncryptionKeyEnvVar)
	}
	if id := keyID(key); id != wantID {
		return nil, fmt.Errorf("%w: sealed with %s, configured %s", ErrKeyMismatch, wantID, id)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted document: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, additionalData(string(header), name))
	if err != nil {
		// Same key: the store key binding failed or the body was altered.
		return nil, fmt.Errorf("%w: %s", ErrDocumentMismatch, name)
	}
	return plaintext, nil
}

// IsEncrypted checks if content carries the encrypted document header.
func IsEncrypted(content []byte) bool {
	return bytes.HasPrefix(content, []byte(encryptedMagic+" "))
}

func envelopeHeader(id string) string {
	return encryptedMagic + " " + envelopeVersion + " " + id
}

// additionalData binds the header and the logical store key, not the
// backend path, so a document moved between backends still opens.
func additionalData(header, name string) []byte {
	return []byte(header + "\x00" + name)
}

// keyID is a short public fingerprint of key.
func keyID(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:keyIDBytes])
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// encryptionKey returns the 32-byte AES key from the environment, or nil.
// Shorter keys are zero padded and longer ones truncated.
func encryptionKey() []byte {
	keyStr := os.Getenv(EncryptionKeyEnvVar)
	if keyStr == "" {
		return nil
	}
	key := make([]byte, 32)
	copy(key, keyStr)
	return key
}

// Package keystore holds the ephemeral keys protecting partial-disclosure
// artifacts. Keys live only in memory on purpose: Discard is the purge
// mechanism, and a restart that loses keys merely renders stale artifacts
// unreadable, which is the safe failure direction for this data.
package keystore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"veil/pkg/platform/sentinel"
)

// Keystore issues per-request AEAD keys and seals artifacts with them.
type Keystore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func New() *Keystore {
	return &Keystore{keys: make(map[string][]byte)}
}

// Issue generates a fresh key and returns its identifier.
func (k *Keystore) Issue() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate artifact key: %w", err)
	}
	keyID := make([]byte, 16)
	if _, err := rand.Read(keyID); err != nil {
		return "", fmt.Errorf("generate key id: %w", err)
	}
	id := hex.EncodeToString(keyID)
	k.mu.Lock()
	k.keys[id] = key
	k.mu.Unlock()
	return id, nil
}

// Seal encrypts plaintext under the named key. The additional data binds the
// ciphertext to its reveal request so an artifact cannot be replayed under a
// different request. The random nonce is prepended to the ciphertext.
func (k *Keystore) Seal(keyID string, plaintext, additional []byte) ([]byte, error) {
	aead, err := k.aead(keyID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open decrypts a sealed artifact. Fails with sentinel.ErrNotFound once the
// key has been discarded.
func (k *Keystore) Open(keyID string, sealed, additional []byte) ([]byte, error) {
	aead, err := k.aead(keyID)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed artifact too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return plaintext, nil
}

// Discard destroys a key. After this the corresponding ciphertext is
// cryptographically unrecoverable. Discarding an unknown key is a no-op so
// purge replays stay idempotent.
func (k *Keystore) Discard(keyID string) {
	k.mu.Lock()
	if key, ok := k.keys[keyID]; ok {
		for i := range key {
			key[i] = 0
		}
		delete(k.keys, keyID)
	}
	k.mu.Unlock()
}

func (k *Keystore) aead(keyID string) (cipher.AEAD, error) {
	k.mu.RLock()
	key, ok := k.keys[keyID]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("artifact key %s: %w", keyID, sentinel.ErrNotFound)
	}
	return chacha20poly1305.NewX(key)
}

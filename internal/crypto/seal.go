package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const tokenVersion = "m1"

var ErrMalformedToken = errors.New("malformed sealed token")

// Manager seals values for at-rest storage with AES-256-GCM. Tokens carry the
// id of the key that sealed them so older keys can still open them after a
// rotation.
type Manager struct {
	currentKeyID string
	keys         map[string][]byte
}

func NewManager(currentKeyID string, keys map[string][]byte) (*Manager, error) {
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("keys map is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	cp := make(map[string][]byte, len(keys))
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		if strings.Contains(id, ".") {
			return nil, fmt.Errorf("key id %q must not contain '.'", id)
		}
		buf := make([]byte, len(key))
		copy(buf, key)
		cp[id] = buf
	}
	return &Manager{currentKeyID: currentKeyID, keys: cp}, nil
}

func (m *Manager) CurrentKeyID() string {
	return m.currentKeyID
}

// SealString returns "m1.<key id>.<nonce>.<ciphertext>" with base64url parts.
func (m *Manager) SealString(value string) (string, error) {
	aead, err := m.aead(m.currentKeyID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(value), []byte(m.currentKeyID))

	enc := base64.RawURLEncoding
	return strings.Join([]string{
		tokenVersion,
		m.currentKeyID,
		enc.EncodeToString(nonce),
		enc.EncodeToString(ct),
	}, "."), nil
}

func (m *Manager) OpenString(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 || parts[0] != tokenVersion {
		return "", ErrMalformedToken
	}
	keyID := parts[1]
	aead, err := m.aead(keyID)
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding
	nonce, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return "", ErrMalformedToken
	}
	ct, err := enc.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	plain, err := aead.Open(nil, nonce, ct, []byte(keyID))
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// Reseal opens a token with whichever key sealed it and seals it again with
// the current key.
func (m *Manager) Reseal(token string) (string, error) {
	plain, err := m.OpenString(token)
	if err != nil {
		return "", err
	}
	return m.SealString(plain)
}

func (m *Manager) aead(keyID string) (cipher.AEAD, error) {
	key, ok := m.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", keyID)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}

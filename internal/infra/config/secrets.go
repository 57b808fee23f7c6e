package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// encPrefix marks an encrypted config value.
const encPrefix = "enc:"

// decryptSecrets decrypts every "enc:..." secret in cfg in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	type secret struct {
		name  string
		value *string
	}
	secrets := []secret{
		{"auth.jwt_secret", &cfg.Auth.JWTSecret},
		{"storage.redis_url", &cfg.Storage.RedisURL},
	}
	for i := range cfg.LLM.Providers {
		secrets = append(secrets, secret{"llm.providers." + cfg.LLM.Providers[i].Name + ".api_key", &cfg.LLM.Providers[i].APIKey})
	}
	for i := range cfg.Auth.Tokens {
		secrets = append(secrets, secret{"auth.tokens." + cfg.Auth.Tokens[i].Name, &cfg.Auth.Tokens[i].Token})
	}

	for _, s := range secrets {
		if !strings.HasPrefix(*s.value, encPrefix) {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(*s.value, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.value = plain
	}
	return nil
}

// EncryptSecret returns plaintext encrypted and prefixed for use in a config file.
func EncryptSecret(plaintext, passphrase string) (string, error) {
	v, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		return "", err
	}
	return encPrefix + v, nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// newGCM derives a 32-byte key with Argon2id and returns an AES-GCM AEAD.
func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

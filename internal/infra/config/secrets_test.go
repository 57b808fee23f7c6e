package config

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "sk-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}

	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	for name, in := range map[string]string{
		"no separator": "abcdef",
		"bad salt":     "zz:00",
		"bad data":     "00:zz",
		"too short":    "00112233445566778899aabbccddeeff:00",
	} {
		if _, err := DecryptValue(in, "pass"); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestEncryptSecretPrefix(t *testing.T) {
	v, err := EncryptSecret("token", "pass")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(v, "enc:") {
		t.Errorf("EncryptSecret() = %q, want enc: prefix", v)
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encKey, _ := EncryptSecret("sk-secret123456", passphrase)
	encJWT, _ := EncryptSecret("jwt-secret", passphrase)
	encTok, _ := EncryptSecret("admin-token", passphrase)

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "openai", APIKey: encKey},
		{Name: "plain", APIKey: "sk-plain-key"},
	}
	cfg.Auth.JWTSecret = encJWT
	cfg.Auth.Tokens = []TokenConfig{{Name: "ops", Token: encTok}}

	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-secret123456" {
		t.Errorf("APIKey = %q", cfg.LLM.Providers[0].APIKey)
	}
	if cfg.LLM.Providers[1].APIKey != "sk-plain-key" {
		t.Errorf("plain key should remain unchanged")
	}
	if cfg.Auth.JWTSecret != "jwt-secret" || cfg.Auth.Tokens[0].Token != "admin-token" {
		t.Errorf("auth secrets not decrypted: %+v", cfg.Auth)
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "openai", APIKey: "enc:notvalidhex"},
	}

	err := decryptSecrets(cfg, "passphrase")
	if err == nil {
		t.Fatal("expected error for invalid ciphertext")
	}
	assertContains(t, err.Error(), "llm.providers.openai.api_key")
}

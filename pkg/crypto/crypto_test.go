package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

var testKey = bytes.Repeat([]byte{0x42}, KeySize)

// ============================================================
// AES-GCM
// ============================================================

func TestEncryptDecrypt(t *testing.T) {
	tests := []string{
		"api-key-123",
		"",
		"секрет с юникодом",
		strings.Repeat("x", 4096),
	}

	for _, plaintext := range tests {
		encrypted, err := Encrypt(plaintext, testKey)
		if err != nil {
			t.Fatalf("Encrypt(%q) error: %v", plaintext, err)
		}
		if plaintext != "" && strings.Contains(encrypted, plaintext) {
			t.Errorf("ciphertext contains plaintext")
		}

		decrypted, err := Decrypt(encrypted, testKey)
		if err != nil {
			t.Fatalf("Decrypt error: %v", err)
		}
		if decrypted != plaintext {
			t.Errorf("round trip: got %q, want %q", decrypted, plaintext)
		}
	}
}

func TestEncrypt_RandomNonce(t *testing.T) {
	a, _ := Encrypt("same", testKey)
	b, _ := Encrypt("same", testKey)
	if a == b {
		t.Error("two encryptions of the same plaintext are identical")
	}
}

func TestDecrypt_Errors(t *testing.T) {
	valid, err := Encrypt("secret", testKey)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(valid)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	otherKey := bytes.Repeat([]byte{0x24}, KeySize)

	tests := []struct {
		name  string
		input string
		key   []byte
		want  error
	}{
		{"short key", valid, []byte("short"), ErrInvalidKeyLength},
		{"not base64", "%%%", testKey, ErrInvalidCiphertext},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc")), testKey, ErrCiphertextTooShort},
		{"tampered", tampered, testKey, ErrDecryptionFailed},
		{"wrong key", valid, otherKey, ErrDecryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(tt.input, tt.key); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEncrypt_InvalidKey(t *testing.T) {
	for _, size := range []int{0, 16, 31, 33} {
		if _, err := Encrypt("x", make([]byte, size)); !errors.Is(err, ErrInvalidKeyLength) {
			t.Errorf("key size %d: expected ErrInvalidKeyLength, got %v", size, err)
		}
	}
}

// ============================================================
// Секреты
// ============================================================

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := HashSecret("webhook-secret", 4)
	if err != nil {
		t.Fatalf("HashSecret error: %v", err)
	}
	if cost, err := GetHashCost(hash); err != nil || cost != 4 {
		t.Errorf("GetHashCost = %d, %v", cost, err)
	}

	if err := VerifySecret("webhook-secret", hash); err != nil {
		t.Errorf("VerifySecret(correct) = %v", err)
	}
	if err := VerifySecret("wrong", hash); !errors.Is(err, ErrSecretMismatch) {
		t.Errorf("VerifySecret(wrong) = %v", err)
	}
	if err := VerifySecret("", hash); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("VerifySecret(empty) = %v", err)
	}
	if err := VerifySecret("x", "not-a-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("VerifySecret(bad hash) = %v", err)
	}
}

func TestHashSecret_Validation(t *testing.T) {
	if _, err := HashSecret("", 4); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("empty: %v", err)
	}
	if _, err := HashSecret(strings.Repeat("a", MaxSecretLength+1), 4); !errors.Is(err, ErrSecretTooLong) {
		t.Errorf("too long: %v", err)
	}

	// cost ниже минимума поднимается до bcrypt.MinCost
	hash, err := HashSecret("s", 1)
	if err != nil {
		t.Fatal(err)
	}
	if cost, _ := GetHashCost(hash); cost != 4 {
		t.Errorf("cost = %d, want 4", cost)
	}
}

func TestEqualSecrets(t *testing.T) {
	tests := []struct {
		presented, expected string
		want                bool
	}{
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"abc", "abcd", false},
		{"", "", false},
		{"", "abc", false},
	}
	for _, tt := range tests {
		if got := EqualSecrets(tt.presented, tt.expected); got != tt.want {
			t.Errorf("EqualSecrets(%q, %q) = %v, want %v", tt.presented, tt.expected, got, tt.want)
		}
	}
}

func TestGetHashCost_Invalid(t *testing.T) {
	for _, h := range []string{"", "plain-text"} {
		if _, err := GetHashCost(h); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("GetHashCost(%q) = %v", h, err)
		}
	}
}

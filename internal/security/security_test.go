package security

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseKey(t *testing.T) {
	if key, err := ParseKey("00112233"); err == nil {
		t.Fatalf("expected error for a too-short key, got key %x", key)
	}
	if key, err := ParseKey("00112233445566778899aabbccddeeff00"); err == nil {
		t.Fatalf("expected error for a too-long key, got key %x", key)
	}
	key, err := ParseKey(" 00112233 445566778899aabbccddeeff ")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if len(key) != 16 {
		t.Fatalf("ParseKey returned %d bytes, want 16", len(key))
	}
}

func TestKeyStoreSetLookup(t *testing.T) {
	store := NewKeyStore()
	if _, ok := store.Lookup("12345678"); ok {
		t.Fatalf("expected no key for an unregistered meter")
	}
	key := bytes.Repeat([]byte{0x01}, 16)
	store.Set("12345678", key)
	got, ok := store.Lookup("12345678")
	if !ok || !bytes.Equal(got, key) {
		t.Fatalf("Lookup returned %x, %v, want %x, true", got, ok, key)
	}
}

func TestGenerateIVLayout(t *testing.T) {
	// Scenario: manufacturer "XYZ", identification "01020304", version v,
	// device type t -> IV = X Y Z 04 03 02 01 v t 0 0 0 0 0 0 0.
	iv, err := GenerateIV("XYZ", "01020304", 0x11, 0x22)
	if err != nil {
		t.Fatalf("GenerateIV: %v", err)
	}
	want := [16]byte{'X', 'Y', 'Z', 0x04, 0x03, 0x02, 0x01, 0x11, 0x22, 0, 0, 0, 0, 0, 0, 0}
	if iv != want {
		t.Fatalf("GenerateIV = % x, want % x", iv, want)
	}
}

func TestGenerateIVRejectsBadManufacturer(t *testing.T) {
	if _, err := GenerateIV("XY", "01020304", 0, 0); err == nil {
		t.Fatalf("expected error for a 2-letter manufacturer code")
	}
}

func TestGenerateIVWithCounterRejectsNonZero(t *testing.T) {
	if _, err := GenerateIVWithCounter("XYZ", "01020304", 0, 0, 1); !errors.Is(err, ErrUnsupportedSecurityMode) {
		t.Fatalf("expected ErrUnsupportedSecurityMode, got %v", err)
	}
	iv, err := GenerateIVWithCounter("XYZ", "01020304", 0x11, 0x22, 0)
	if err != nil {
		t.Fatalf("GenerateIVWithCounter(counter=0): %v", err)
	}
	direct, _ := GenerateIV("XYZ", "01020304", 0x11, 0x22)
	if iv != direct {
		t.Fatalf("GenerateIVWithCounter(counter=0) disagrees with GenerateIV")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x2A}, 16)
	iv, err := GenerateIV("XYZ", "01020304", 0x01, 0x07)
	if err != nil {
		t.Fatalf("GenerateIV: %v", err)
	}
	plaintext := []byte("a wM-Bus payload that is not a multiple of the block size")

	ciphertext, err := Encrypt(key, iv, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(ciphertext)%16 != 0 {
		t.Fatalf("ciphertext length %d is not a multiple of the AES block size", len(ciphertext))
	}

	result, err := Decrypt(key, iv, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !result.PaddingRemoved {
		t.Fatalf("expected PaddingRemoved=true for a PKCS#7-padded ciphertext")
	}
	if !bytes.Equal(result.Plaintext, plaintext) {
		t.Fatalf("Decrypt(Encrypt(plaintext)) = %q, want %q", result.Plaintext, plaintext)
	}
}

func TestDecryptRejectsWrongLengthKey(t *testing.T) {
	iv, _ := GenerateIV("XYZ", "01020304", 0, 0)
	if _, err := Decrypt([]byte{0x01, 0x02}, iv, make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDecryptRejectsNonBlockAlignedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 16)
	iv, _ := GenerateIV("XYZ", "01020304", 0, 0)
	if _, err := Decrypt(key, iv, make([]byte, 17)); err == nil {
		t.Fatalf("expected an error for a non-block-aligned ciphertext")
	}
}

func TestDeriveKeyIsDeterministicAndKeyed(t *testing.T) {
	master := bytes.Repeat([]byte{0x55}, 16)
	k1, err := DeriveKey(master, 0x7A, "KAM", "12345678")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := DeriveKey(master, 0x7A, "KAM", "12345678")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatalf("DeriveKey is not deterministic: %x != %x", k1, k2)
	}
	if len(k1) != 16 {
		t.Fatalf("DeriveKey returned %d bytes, want 16", len(k1))
	}

	k3, err := DeriveKey(master, 0x7A, "KAM", "87654321")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Fatalf("DeriveKey produced the same key for two different meter identifications")
	}
}

func TestDeriveKeyRejectsWrongMasterKeyLength(t *testing.T) {
	if _, err := DeriveKey([]byte{0x01}, 0x7A, "KAM", "12345678"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestVerifyMACAlwaysReportsVerified(t *testing.T) {
	result := VerifyMAC(nil, [16]byte{}, []byte("anything"), []byte("any-tag"))
	if !result.Verified {
		t.Fatalf("VerifyMAC is documented to always report verified")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual([]byte("abc"), []byte("abc")) {
		t.Fatalf("expected equal byte slices to compare equal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("abd")) {
		t.Fatalf("expected differing byte slices to compare unequal")
	}
	if ConstantTimeEqual([]byte("abc"), []byte("ab")) {
		t.Fatalf("expected different-length slices to compare unequal")
	}
}

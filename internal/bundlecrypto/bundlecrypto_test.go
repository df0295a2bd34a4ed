package bundlecrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
)

func encryptAESCBC(t *testing.T, plaintext, key []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		t.Fatal(err)
	}
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	iv, err := randomIV()
	if err != nil {
		t.Fatal(err)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return append(iv, out...)
}

func TestHashFile_VerifyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.zip")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	digest, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := VerifyFile(path, digest)
	if err != nil || !ok {
		t.Fatalf("VerifyFile(correct) = %v, %v", ok, err)
	}
	ok, err = VerifyFile(path, "deadbeef")
	if err != nil || ok {
		t.Fatalf("VerifyFile(wrong) = %v, %v, want false/nil", ok, err)
	}
}

func TestDecryptChecksum_roundTrip(t *testing.T) {
	key := []byte("a-session-key")
	want := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd"
	ciphertext := encryptAESCBC(t, []byte(want), key)
	encoded := base64.StdEncoding.EncodeToString(ciphertext)

	got, ok := DecryptChecksum(encoded, key)
	if !ok || got != want {
		t.Fatalf("DecryptChecksum = %q, %v; want %q, true", got, ok, want)
	}
}

func TestDecryptChecksum_badFormatFallsBack(t *testing.T) {
	if _, ok := DecryptChecksum("not-base64!!", []byte("key")); ok {
		t.Error("expected fallback (false) for malformed input")
	}
	if _, ok := DecryptChecksum("deadbeef", nil); ok {
		t.Error("expected fallback (false) for empty session key")
	}
}

func TestDecryptFile_roundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.zip")
	key := []byte("another-session-key")
	plaintext := []byte("PK\x03\x04 pretend zip bytes")
	if err := os.WriteFile(path, encryptAESCBC(t, plaintext, key), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := DecryptFile(path, key); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("decrypted = %q, want %q", got, plaintext)
	}
}

func TestDecryptFile_noSessionKeyIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.zip")
	original := []byte("unchanged")
	if err := os.WriteFile(path, original, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := DecryptFile(path, nil); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, original) {
		t.Error("DecryptFile with no session key must not modify the file")
	}
}

func TestTryDecompressBrotli(t *testing.T) {
	plain := []byte("the quick brown fox jumps over the lazy dog, repeated for compression: " +
		"the quick brown fox jumps over the lazy dog")
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(plain); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	got := TryDecompressBrotli(buf.Bytes())
	if !bytes.Equal(got, plain) {
		t.Errorf("TryDecompressBrotli did not round-trip: got %d bytes, want %d", len(got), len(plain))
	}
}

func TestTryDecompressBrotli_notBrotliPassesThrough(t *testing.T) {
	raw := []byte("plain, uncompressed content")
	got := TryDecompressBrotli(raw)
	if !bytes.Equal(got, raw) {
		t.Errorf("TryDecompressBrotli(plain) = %q, want unchanged %q", got, raw)
	}
}

func TestGenerateBundleID(t *testing.T) {
	a := GenerateBundleID()
	b := GenerateBundleID()
	if a == b {
		t.Error("GenerateBundleID should be unique per call")
	}
	if a == BuiltinBundleID || b == BuiltinBundleID {
		t.Error("GenerateBundleID must never return the reserved builtin id")
	}
}

func TestDeriveKeyID(t *testing.T) {
	pem := "-----BEGIN PUBLIC KEY-----\nMIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8A\nMIIBCgKCAQEA\n-----END PUBLIC KEY-----\n"
	id, ok := DeriveKeyID(pem)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(id) != 20 {
		t.Errorf("key id length = %d, want 20", len(id))
	}
	if _, ok := DeriveKeyID(""); ok {
		t.Error("empty PEM should yield ok=false")
	}
	if _, ok := DeriveKeyID("-----BEGIN PUBLIC KEY-----\n-----END PUBLIC KEY-----\n"); ok {
		t.Error("armor-only PEM should yield ok=false")
	}
}

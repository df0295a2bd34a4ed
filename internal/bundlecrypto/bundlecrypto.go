// Package bundlecrypto implements component B of the updater: checksum
// hashing, session-key decryption of the downloaded payload and of the
// checksum field, Brotli decompression of manifest entries, bundle id
// generation, and public-key id derivation.
//
// The package is stateless: every function takes whatever key material it
// needs as an argument rather than holding it in package state, so callers
// (internal/downloader) own the lifetime of a session key.
package bundlecrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
)

// BuiltinBundleID is the one reserved, immutable bundle identifier (spec §3 invariant 1).
const BuiltinBundleID = "builtin"

// HashFile returns the hex-encoded SHA-256 digest of path's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("bundlecrypto: hash: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("bundlecrypto: hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile reports whether path's SHA-256 digest matches expectedHex, using a
// constant-time comparison on the decoded digest bytes.
func VerifyFile(path, expectedHex string) (bool, error) {
	got, err := HashFile(path)
	if err != nil {
		return false, err
	}
	gotBytes, err1 := hex.DecodeString(got)
	wantBytes, err2 := hex.DecodeString(strings.TrimSpace(expectedHex))
	if err1 != nil || err2 != nil || len(gotBytes) != len(wantBytes) {
		return false, nil
	}
	return subtle.ConstantTimeCompare(gotBytes, wantBytes) == 1, nil
}

// DecryptChecksum attempts to treat encryptedBase64 as a base64-encoded,
// AES-256-CBC-encrypted (IV-prefixed, PKCS#7-padded) checksum field and
// decrypt it with sessionKey. It returns (plaintextHex, true) on success.
// Any format or padding error yields ("", false) so the caller falls back to
// using the field verbatim, per spec §4.B.
func DecryptChecksum(encryptedBase64 string, sessionKey []byte) (string, bool) {
	if len(sessionKey) == 0 {
		return "", false
	}
	plain, err := decryptAESCBC(encryptedBase64, sessionKey)
	if err != nil {
		return "", false
	}
	hexDigest := strings.TrimSpace(string(plain))
	if _, err := hex.DecodeString(hexDigest); err != nil {
		return "", false
	}
	return hexDigest, true
}

// DecryptFile in-place decrypts path, which must hold base64-free raw bytes
// of an IV-prefixed, PKCS#7-padded AES-256-CBC ciphertext, using sessionKey.
// It is a no-op returning nil when sessionKey is empty, per spec §4.B
// ("no-op path not taken when sessionKey absent").
func DecryptFile(path string, sessionKey []byte) error {
	if len(sessionKey) == 0 {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("bundlecrypto: decrypt file: %w", err)
	}
	plain, err := decryptAESCBCBytes(raw, sessionKey)
	if err != nil {
		return fmt.Errorf("bundlecrypto: decrypt file: %w", err)
	}
	if err := os.WriteFile(path, plain, 0o600); err != nil {
		return fmt.Errorf("bundlecrypto: decrypt file: write: %w", err)
	}
	return nil
}

// TryDecompressBrotli returns the Brotli-decompressed form of data, or data
// unchanged if it does not decode as a complete Brotli stream.
func TryDecompressBrotli(data []byte) []byte {
	r := brotli.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil || len(out) == 0 {
		return data
	}
	return out
}

// GenerateBundleID returns a fresh opaque bundle id, guaranteed not to equal
// BuiltinBundleID (a UUIDv4 collision with the literal string is
// astronomically unlikely, but the loop costs nothing and documents the
// invariant).
func GenerateBundleID() string {
	for {
		id := uuid.New().String()
		if id != BuiltinBundleID {
			return id
		}
	}
}

// DeriveKeyID strips PEM armor and whitespace from publicKeyPEM and returns
// the first 20 characters of what remains, or ("", false) if nothing remains.
func DeriveKeyID(publicKeyPEM string) (string, bool) {
	lines := strings.Split(publicKeyPEM, "\n")
	var b strings.Builder
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		b.WriteString(line)
	}
	body := b.String()
	if body == "" {
		return "", false
	}
	if len(body) > 20 {
		body = body[:20]
	}
	return body, true
}

func decryptAESCBC(base64Ciphertext string, key []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(base64Ciphertext))
	if err != nil {
		return nil, fmt.Errorf("not valid base64: %w", err)
	}
	return decryptAESCBCBytes(raw, key)
}

func decryptAESCBCBytes(raw, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, err
	}
	if len(raw) < aes.BlockSize || (len(raw)-aes.BlockSize)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext has invalid length %d", len(raw))
	}
	iv := raw[:aes.BlockSize]
	ciphertext := raw[aes.BlockSize:]
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("empty ciphertext")
	}
	plain := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plain, ciphertext)
	return pkcs7Unpad(plain)
}

// normalizeKey maps arbitrary key material onto a 32-byte AES-256 key via
// SHA-256, so callers may pass session keys of any length the server sends.
func normalizeKey(key []byte) []byte {
	sum := sha256.Sum256(key)
	return sum[:]
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	pad := int(data[n-1])
	if pad == 0 || pad > aes.BlockSize || pad > n {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[n-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:n-pad], nil
}

// randomIV is exposed for tests that need to construct a valid ciphertext.
func randomIV() ([]byte, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	return iv, nil
}

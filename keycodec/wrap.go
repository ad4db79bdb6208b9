package keycodec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/telepath-im/telepath/apperr"
)

// MaxPlaintextSize caps message payloads (64KB). Messages in this system
// are short text; the cap prevents excessive memory usage on unwrap.
const MaxPlaintextSize = 64 * 1024

// wrapPrefix versions the opaque payload format. Everything after the
// prefix is base64: a 24-byte nonce followed by the secretbox ciphertext.
const wrapPrefix = "tlp1:"

const nonceSize = 24

// hkdfInfo binds derived keys to this use so the same identifier can never
// silently serve another protocol role.
const hkdfInfo = "telepath message key v1"

// deriveKey stretches the canonical key identifier into a 32-byte
// secretbox key via HKDF-SHA256.
func deriveKey(keyValue string) (*[32]byte, error) {
	var key [32]byte
	r := hkdf.New(sha256.New, []byte(keyValue), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return &key, nil
}

// Wrap seals plaintext under the given key identifier using authenticated
// encryption. The returned opaque string is self-describing: Unwrap needs
// nothing but the key to open it or to detect tampering.
func Wrap(plaintext []byte, keyValue string) (string, error) {
	if len(plaintext) == 0 {
		return "", apperr.Encode("empty plaintext")
	}
	if len(plaintext) > MaxPlaintextSize {
		return "", apperr.Encode(fmt.Sprintf("plaintext too large: %d bytes (max %d)", len(plaintext), MaxPlaintextSize))
	}
	if !ValidateFormat(keyValue) {
		return "", apperr.Validation("malformed key identifier")
	}

	key, err := deriveKey(keyValue)
	if err != nil {
		return "", apperr.Wrap(apperr.KindEncode, "wrap failed", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", apperr.Wrap(apperr.KindEncode, "failed to generate nonce", err)
	}

	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, key)
	return wrapPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Unwrap opens an opaque payload produced by Wrap. It fails with a decode
// error when the payload is malformed or the authentication check fails
// (wrong key or tampering); it never returns garbage.
func Unwrap(opaque string, keyValue string) ([]byte, error) {
	if !strings.HasPrefix(opaque, wrapPrefix) {
		return nil, apperr.Decode("unrecognized payload format")
	}
	if !ValidateFormat(keyValue) {
		return nil, apperr.Validation("malformed key identifier")
	}

	raw, err := base64.RawStdEncoding.DecodeString(opaque[len(wrapPrefix):])
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDecode, "payload is not valid base64", err)
	}
	if len(raw) <= nonceSize+secretbox.Overhead {
		return nil, apperr.Decode("payload truncated")
	}

	key, err := deriveKey(keyValue)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDecode, "unwrap failed", err)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plaintext, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return nil, apperr.Decode("message authentication failed")
	}
	return plaintext, nil
}

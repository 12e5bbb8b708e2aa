package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/abiqua/relay-service/config"
)

var (
	ErrPayloadEncoding  = errors.New("service: payload is not valid base64 or hex")
	ErrPayloadPlaintext = errors.New("service: plaintext payload rejected")
)

// PayloadCodec enforces the send-path encoding contract. The mode is fixed at
// startup:
//
//   - client mode: the inbound payload must already be ciphertext, armored as
//     hex or base64. Anything that looks like plaintext is rejected.
//   - server mode (development only): plaintext is accepted and sealed with a
//     deployment-local AES-GCM key derived from the configured seed.
type PayloadCodec struct {
	mode string
	aead cipher.AEAD
}

func NewPayloadCodec(cfg *config.Config) (*PayloadCodec, error) {
	c := &PayloadCodec{mode: cfg.EncryptionMode}

	if cfg.EncryptionMode == config.EncryptionModeServer {
		seed := sha256.Sum256([]byte(cfg.EncryptionKeySeed))
		block, err := aes.NewCipher(seed[:])
		if err != nil {
			return nil, fmt.Errorf("service: cipher init: %w", err)
		}
		if c.aead, err = cipher.NewGCM(block); err != nil {
			return nil, fmt.Errorf("service: cipher init: %w", err)
		}
	}
	return c, nil
}

// Decode turns the request payload string into the opaque bytes the relay
// stores. The relay never interprets these bytes further.
func (c *PayloadCodec) Decode(payload string) ([]byte, error) {
	if c.mode == config.EncryptionModeServer {
		return c.seal([]byte(payload))
	}
	return decodeArmored(payload)
}

func (c *PayloadCodec) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("service: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// decodeArmored accepts hex first (so an all-hex string round-trips exactly),
// then standard base64. Input that decodes to mostly printable text, or that
// decodes as neither, is classified by the plaintext heuristic.
func decodeArmored(payload string) ([]byte, error) {
	if isHexString(payload) {
		raw, err := hex.DecodeString(payload)
		if err == nil {
			return rejectPlaintext(raw)
		}
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return rejectPlaintext(raw)
	}
	if looksPrintable([]byte(payload)) {
		return nil, ErrPayloadPlaintext
	}
	return nil, ErrPayloadEncoding
}

func rejectPlaintext(decoded []byte) ([]byte, error) {
	// Short blobs cannot be classified reliably; real ciphertext of any
	// useful size is indistinguishable from noise.
	if len(decoded) >= 16 && looksPrintable(decoded) {
		return nil, ErrPayloadPlaintext
	}
	return decoded, nil
}

// looksPrintable reports whether at least 80% of the bytes are printable
// ASCII or common whitespace, the signature of un-encrypted text.
func looksPrintable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	printable := 0
	for _, c := range b {
		if (c >= 0x20 && c < 0x7f) || c == '\n' || c == '\r' || c == '\t' {
			printable++
		}
	}
	return float64(printable)/float64(len(b)) >= 0.8
}

func isHexString(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F')
	}) < 0
}

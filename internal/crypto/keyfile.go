// Package crypto provides the encrypted keyfile used to provision HODL and
// Bank key material without leaving base58 secrets in plain environment
// variables or configuration files.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the keyfile JSON schema version.
	currentVersion = 1

	// ed25519KeyLen is the raw length of a Solana private key.
	ed25519KeyLen = 64
)

// keyfileJSON is the on-disk format for the encrypted key sets.
type keyfileJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// KeySet is the plaintext keyfile payload: base58-encoded private keys per
// custody tier.
type KeySet struct {
	Hodl []string `json:"hodl"`
	Bank []string `json:"bank"`
}

// Seal encrypts a key set with a passphrase using PBKDF2-HMAC-SHA256 key
// derivation and AES-256-GCM authenticated encryption. It returns the JSON
// blob suitable for writing to disk.
func Seal(keys KeySet, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: passphrase must not be empty")
	}
	if err := validateKeySet(keys); err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(keys)
	if err != nil {
		return nil, fmt.Errorf("crypto: encoding key set: %w", err)
	}

	// Generate random salt and derive the AES key.
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	// AES-256-GCM encrypt.
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := keyfileJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	return json.MarshalIndent(out, "", "  ")
}

// Open decrypts a JSON blob produced by Seal.
func Open(data []byte, passphrase string) (KeySet, error) {
	if passphrase == "" {
		return KeySet{}, errors.New("crypto: passphrase must not be empty")
	}

	var stored keyfileJSON
	if err := json.Unmarshal(data, &stored); err != nil {
		return KeySet{}, fmt.Errorf("crypto: parsing keyfile JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return KeySet{}, fmt.Errorf("crypto: unsupported keyfile version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return KeySet{}, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return KeySet{}, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return KeySet{}, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return KeySet{}, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return KeySet{}, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return KeySet{}, fmt.Errorf("crypto: decryption failed (wrong passphrase?): %w", err)
	}

	var keys KeySet
	if err := json.Unmarshal(plaintext, &keys); err != nil {
		return KeySet{}, fmt.Errorf("crypto: parsing key set: %w", err)
	}
	return keys, nil
}

// LoadKeyfile reads and decrypts the keyfile at path, returning the decoded
// private keys per tier. The decrypted material goes straight into memory;
// nothing is written back.
func LoadKeyfile(path, passphrase string) (hodl, bank []solana.PrivateKey, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: reading keyfile: %w", err)
	}

	keys, err := Open(data, passphrase)
	if err != nil {
		return nil, nil, err
	}

	hodl, err = decodeKeys(keys.Hodl)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: hodl keys: %w", err)
	}
	bank, err = decodeKeys(keys.Bank)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: bank keys: %w", err)
	}
	return hodl, bank, nil
}

func decodeKeys(encoded []string) ([]solana.PrivateKey, error) {
	keys := make([]solana.PrivateKey, 0, len(encoded))
	for i, s := range encoded {
		key, err := solana.PrivateKeyFromBase58(s)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		if len(key) != ed25519KeyLen {
			return nil, fmt.Errorf("key %d: expected %d-byte ed25519 key, got %d bytes", i, ed25519KeyLen, len(key))
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func validateKeySet(keys KeySet) error {
	if _, err := decodeKeys(keys.Hodl); err != nil {
		return fmt.Errorf("crypto: hodl keys: %w", err)
	}
	if _, err := decodeKeys(keys.Bank); err != nil {
		return fmt.Errorf("crypto: bank keys: %w", err)
	}
	return nil
}

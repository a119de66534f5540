// Package crypto provides key management and payload signing for the
// hedge ledger's transaction path.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/scrypt"
)

const (
	keyfileKind    = "hedgebot/encrypted-key"
	keyfileVersion = 1

	// scrypt parameters for newly written keyfiles. They are recorded in
	// the file, so raising them does not invalidate existing keyfiles.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	saltLen   = 32
	aesKeyLen = 32
)

// keyfile is the on-disk envelope for the relayer wallet's encrypted key.
// Address names the wallet the file holds, so an operator can match a
// keyfile against the configured relayer wallet before deploying it.
type keyfile struct {
	Kind    string        `json:"kind"`
	Version int           `json:"version"`
	Address string        `json:"address"`
	Crypto  keyfileCrypto `json:"crypto"`
}

type keyfileCrypto struct {
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"` // base64 standard encoding
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// KeyConfig carries the information LoadKey needs to resolve the relayer
// wallet's private key. Populate the fields from environment variables or
// config.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded private key (with or without 0x
	// prefix). If non-empty, LoadKey returns it directly.
	RawPrivateKey string

	// EncryptedKeyPath is the path to a keyfile produced by EncryptKey.
	EncryptedKeyPath string

	// KeyPassword decrypts the file at EncryptedKeyPath.
	KeyPassword string
}

// EncryptKey seals a hex-encoded private key into a hedgebot keyfile using
// scrypt key derivation and AES-256-GCM. The envelope records the wallet
// address the key controls alongside the ciphertext.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	keyBytes := ethcrypto.FromECDSA(pk)

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	derivedKey, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, aesKeyLen)
	if err != nil {
		return nil, fmt.Errorf("crypto: deriving key: %w", err)
	}

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

	out := keyfile{
		Kind:    keyfileKind,
		Version: keyfileVersion,
		Address: ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
		Crypto: keyfileCrypto{
			KDF:        "scrypt",
			Salt:       base64.StdEncoding.EncodeToString(salt),
			N:          scryptN,
			R:          scryptR,
			P:          scryptP,
			Nonce:      base64.StdEncoding.EncodeToString(nonce),
			Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
		},
	}

	return json.MarshalIndent(out, "", "  ")
}

// DecryptKey opens a keyfile produced by EncryptKey, returning the
// hex-encoded private key (without 0x prefix). The recovered key must
// derive the address the envelope names.
func DecryptKey(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored keyfile
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing keyfile: %w", err)
	}
	if stored.Kind != keyfileKind {
		return "", fmt.Errorf("crypto: not a hedgebot keyfile (kind %q)", stored.Kind)
	}
	if stored.Version != keyfileVersion {
		return "", fmt.Errorf("crypto: unsupported keyfile version %d", stored.Version)
	}
	if stored.Crypto.KDF != "scrypt" {
		return "", fmt.Errorf("crypto: unsupported KDF %q", stored.Crypto.KDF)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Crypto.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Crypto.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Crypto.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey, err := scrypt.Key([]byte(password), salt, stored.Crypto.N, stored.Crypto.R, stored.Crypto.P, aesKeyLen)
	if err != nil {
		return "", fmt.Errorf("crypto: deriving key: %w", err)
	}

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return "", fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}

	pk, err := ethcrypto.ToECDSA(plaintext)
	if err != nil {
		return "", fmt.Errorf("crypto: recovered bytes are not a valid key: %w", err)
	}
	if addr := ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(); !strings.EqualFold(addr, stored.Address) {
		return "", fmt.Errorf("crypto: keyfile names wallet %s but the key derives %s", stored.Address, addr)
	}

	return hex.EncodeToString(plaintext), nil
}

// LoadKey resolves the relayer wallet's private key.
//
// Resolution order:
//  1. If RawPrivateKey is set, validate and return it (stripping 0x prefix).
//  2. If EncryptedKeyPath is set, read the keyfile and decrypt with
//     KeyPassword.
//  3. Otherwise, return an error.
func LoadKey(cfg KeyConfig) (string, error) {
	if cfg.RawPrivateKey != "" {
		k := strings.TrimPrefix(cfg.RawPrivateKey, "0x")
		if _, err := ethcrypto.HexToECDSA(k); err != nil {
			return "", fmt.Errorf("crypto: RawPrivateKey is not a valid key: %w", err)
		}
		return k, nil
	}

	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading keyfile: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}

	return "", errors.New("crypto: no private key source configured (set RawPrivateKey or EncryptedKeyPath)")
}

package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the wallet's secp256k1 key and signs ledger payloads. The
// ledger verifies the recoverable signature against the submitting address,
// so the digest is the keccak256 of the canonical payload bytes.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignPayload signs keccak256(payload) and returns the 65-byte recoverable
// signature hex-encoded with a 0x prefix.
func (s *Signer) SignPayload(payload []byte) (string, error) {
	digest := ethcrypto.Keccak256(payload)
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign payload: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// VerifyPayload recovers the signer address from a signature produced by
// SignPayload and compares it to want.
func VerifyPayload(payload []byte, signatureHex string, want common.Address) (bool, error) {
	sigHex := strings.TrimPrefix(signatureHex, "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d", len(sig))
	}

	digest := ethcrypto.Keccak256(payload)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false, fmt.Errorf("crypto/signer: recover pubkey: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub) == want, nil
}

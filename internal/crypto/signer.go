// Package crypto provides secp256k1 message signing and signer recovery used to
// attribute pool invocations and oracle responses to an address.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature is malformed or does not
// recover to a public key.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// Signer signs messages with a secp256k1 key.
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

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's public key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMessage signs msg under the EIP-191 personal message prefix and returns
// the hex-encoded 65-byte signature (r || s || v, v in {27,28}).
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(MessageHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets expect {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

var (
	curveN     = ethcrypto.S256().Params().N
	curveHalfN = new(big.Int).Rsh(curveN, 1)
)

// NormalizeSignature decodes a hex signature, with or without the 0x prefix,
// into its canonical 65 bytes: s in the lower half of the curve order and v in
// {0,1}. Both ECDSA encodings of one signature normalize to the same bytes.
func NormalizeSignature(sigHex string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"), "0X")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("%w: expected 65 bytes, got %d", ErrInvalidSignature, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}

	r := new(big.Int).SetBytes(sig[:32])
	sv := new(big.Int).SetBytes(sig[32:64])
	if sv.Cmp(curveHalfN) > 0 {
		sv.Sub(curveN, sv)
		sv.FillBytes(sig[32:64])
		sig[64] ^= 1
	}
	if !ethcrypto.ValidateSignatureValues(sig[64], r, sv, true) {
		return nil, fmt.Errorf("%w: values out of range", ErrInvalidSignature)
	}
	return sig, nil
}

// Recover returns the address that produced sigHex over msg.
func Recover(msg []byte, sigHex string) (common.Address, error) {
	sig, err := NormalizeSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(MessageHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// MessageHash computes keccak256("\x19Ethereum Signed Message:\n" || len || msg).
func MessageHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return ethcrypto.Keccak256([]byte(prefix), msg)
}

// InvocationHash derives the identifier of a signed invocation from msg and
// the normalized signature, so every encoding of one signature yields the
// same hash. It cannot be predicted before the caller signs.
func InvocationHash(msg []byte, sigHex string) (common.Hash, error) {
	sig, err := NormalizeSignature(sigHex)
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(msg, sig), nil
}

// Package crypto adapts secp256k1 signing and address derivation to the fixed-size
// key and signature forms used in transactions.
package crypto

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
)

const (
	SecretKeyLength = 32
	PublicKeyLength = 33
	SignatureLength = 64
	HashLength      = 32

	addressVersion  = 0x00
	checksumLength  = 4
	addressPayload  = 1 + ripemd160.Size
	addressRawBytes = addressPayload + checksumLength
)

var (
	ErrInvalidSecretKey = errors.New("invalid secret key")
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// Hash is the content hash used for transactions and blocks.
func Hash(data ...[]byte) [HashLength]byte {
	var h [HashLength]byte
	copy(h[:], gethcrypto.Keccak256(data...))
	return h
}

// GenerateSecretKey returns a fresh random secret key.
func GenerateSecretKey() ([]byte, error) {
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return gethcrypto.FromECDSA(key), nil
}

// PublicKeyFromSecretKey returns the compressed public key of secretKey.
func PublicKeyFromSecretKey(secretKey []byte) ([PublicKeyLength]byte, error) {
	var pub [PublicKeyLength]byte
	key, err := gethcrypto.ToECDSA(secretKey)
	if err != nil {
		return pub, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	copy(pub[:], gethcrypto.CompressPubkey(&key.PublicKey))
	return pub, nil
}

// Sign signs a 32-byte hash and returns the [R || S] signature.
func Sign(hash [HashLength]byte, secretKey []byte) ([SignatureLength]byte, error) {
	var sig [SignatureLength]byte
	key, err := gethcrypto.ToECDSA(secretKey)
	if err != nil {
		return sig, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	full, err := gethcrypto.Sign(hash[:], key)
	if err != nil {
		return sig, err
	}
	// drop the recovery id
	copy(sig[:], full[:SignatureLength])
	return sig, nil
}

// Verify never panics; malformed keys or signatures simply fail verification.
func Verify(hash [HashLength]byte, signature [SignatureLength]byte, publicKey [PublicKeyLength]byte) bool {
	if _, err := gethcrypto.DecompressPubkey(publicKey[:]); err != nil {
		return false
	}
	return gethcrypto.VerifySignature(publicKey[:], hash[:], signature[:])
}

// AddressFromPublicKey derives the base58check address of a compressed public key.
func AddressFromPublicKey(publicKey [PublicKeyLength]byte) (string, error) {
	if _, err := gethcrypto.DecompressPubkey(publicKey[:]); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	sum := sha256.Sum256(publicKey[:])
	hasher := ripemd160.New()
	hasher.Write(sum[:])

	payload := make([]byte, 0, addressRawBytes)
	payload = append(payload, addressVersion)
	payload = hasher.Sum(payload)
	payload = append(payload, checksum(payload)...)
	return base58.Encode(payload), nil
}

// IsValidAddress checks the base58 form, version byte and checksum of address.
func IsValidAddress(address string) bool {
	raw, err := base58.Decode(address)
	if err != nil || len(raw) != addressRawBytes || raw[0] != addressVersion {
		return false
	}
	return bytes.Equal(checksum(raw[:addressPayload]), raw[addressPayload:])
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLength]
}

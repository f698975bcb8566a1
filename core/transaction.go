package core

import (
	"errors"
	"fmt"

	"github.com/ledgerline/ledgerd/core/crypto"
	"github.com/ledgerline/ledgerd/encoder"
	"github.com/shopspring/decimal"
)

type (
	PublicKey [crypto.PublicKeyLength]byte
	Signature [crypto.SignatureLength]byte
)

// Transaction is the signed envelope for a method call. Method, nonce, public key and input
// form the hashed content; the signature is appended after it.
type Transaction struct {
	Method    string
	Nonce     uint32
	PublicKey PublicKey
	Signature Signature
	// Input is the canonical CBOR encoding of the call parameters.
	Input []byte
}

// SetInput stores the canonical encoding of params.
func (t *Transaction) SetInput(params any) error {
	if params == nil {
		params = map[string]any{}
	}
	input, err := encoder.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	t.Input = input
	return nil
}

// UnmarshalInput decodes the call parameters into v.
func (t *Transaction) UnmarshalInput(v any) error {
	if len(t.Input) == 0 {
		return nil
	}
	return encoder.Unmarshal(t.Input, v)
}

// Address derives the sender address from the signer's public key.
func (t *Transaction) Address() (string, error) {
	return crypto.AddressFromPublicKey(t.PublicKey)
}

func (t *Transaction) encodeHashContent(w *BufferWriter) {
	w.WriteVarString(t.Method)
	w.WriteU32(t.Nonce)
	w.WriteBytes(t.PublicKey[:])
	w.WriteVarBytes(t.Input)
}

func (t *Transaction) decodeHashContent(r *BufferReader) error {
	var err error
	if t.Method, err = r.ReadVarString(); err != nil {
		return fmt.Errorf("method: %w", err)
	}
	if t.Nonce, err = r.ReadU32(); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	pub, err := r.ReadBytes(crypto.PublicKeyLength)
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	copy(t.PublicKey[:], pub)
	if t.Input, err = r.ReadVarBytes(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if len(t.Input) > 0 {
		if err = encoder.Valid(t.Input); err != nil {
			return fmt.Errorf("%w: input: %v", ErrTruncatedData, err)
		}
	}
	return nil
}

func (t *Transaction) decodeSignature(r *BufferReader) error {
	sig, err := r.ReadBytes(crypto.SignatureLength)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	copy(t.Signature[:], sig)
	return nil
}

// Hash is the content hash of the transaction.
func (t *Transaction) Hash() Hash {
	w := NewBufferWriter()
	t.encodeHashContent(w)
	return crypto.Hash(w.Bytes())
}

// Sign sets the public key derived from secretKey and overwrites the signature.
func (t *Transaction) Sign(secretKey []byte) error {
	return t.sign(secretKey, t.Hash)
}

// VerifySignature reports whether the signature matches the content hash and public key.
func (t *Transaction) VerifySignature() bool {
	return crypto.Verify(t.Hash(), t.Signature, t.PublicKey)
}

func (t *Transaction) sign(secretKey []byte, hash func() Hash) error {
	pub, err := crypto.PublicKeyFromSecretKey(secretKey)
	if err != nil {
		return err
	}
	t.PublicKey = pub
	sig, err := crypto.Sign(hash(), secretKey)
	if err != nil {
		return err
	}
	t.Signature = sig
	return nil
}

func (t *Transaction) Encode(w *BufferWriter) {
	t.encodeHashContent(w)
	w.WriteBytes(t.Signature[:])
}

func (t *Transaction) Decode(r *BufferReader) error {
	if err := t.decodeHashContent(r); err != nil {
		return err
	}
	return t.decodeSignature(r)
}

func (t *Transaction) MarshalBinary() ([]byte, error) {
	w := NewBufferWriter()
	t.Encode(w)
	return w.Bytes(), nil
}

func (t *Transaction) UnmarshalBinary(data []byte) error {
	r := NewBufferReader(data)
	if err := t.Decode(r); err != nil {
		return err
	}
	return expectEnd(r)
}

// ValueTransaction carries an attached value and a declared fee. Both are part of the hashed
// content, written after the input as decimal strings.
type ValueTransaction struct {
	Transaction
	Value decimal.Decimal
	Fee   decimal.Decimal
}

func (t *ValueTransaction) encodeHashContent(w *BufferWriter) {
	t.Transaction.encodeHashContent(w)
	w.WriteVarString(t.Value.String())
	w.WriteVarString(t.Fee.String())
}

func (t *ValueTransaction) decodeHashContent(r *BufferReader) error {
	if err := t.Transaction.decodeHashContent(r); err != nil {
		return err
	}
	var err error
	if t.Value, err = readDecimal(r); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	if t.Fee, err = readDecimal(r); err != nil {
		return fmt.Errorf("fee: %w", err)
	}
	return nil
}

func (t *ValueTransaction) Hash() Hash {
	w := NewBufferWriter()
	t.encodeHashContent(w)
	return crypto.Hash(w.Bytes())
}

func (t *ValueTransaction) Sign(secretKey []byte) error {
	return t.sign(secretKey, t.Hash)
}

func (t *ValueTransaction) VerifySignature() bool {
	return crypto.Verify(t.Hash(), t.Signature, t.PublicKey)
}

func (t *ValueTransaction) Encode(w *BufferWriter) {
	t.encodeHashContent(w)
	w.WriteBytes(t.Signature[:])
}

func (t *ValueTransaction) Decode(r *BufferReader) error {
	if err := t.decodeHashContent(r); err != nil {
		return err
	}
	return t.decodeSignature(r)
}

func (t *ValueTransaction) MarshalBinary() ([]byte, error) {
	w := NewBufferWriter()
	t.Encode(w)
	return w.Bytes(), nil
}

func (t *ValueTransaction) UnmarshalBinary(data []byte) error {
	r := NewBufferReader(data)
	if err := t.Decode(r); err != nil {
		return err
	}
	return expectEnd(r)
}

// readDecimal only accepts the canonical string form so re-encoding reproduces the input.
func readDecimal(r *BufferReader) (decimal.Decimal, error) {
	s, err := r.ReadVarString()
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrTruncatedData, err)
	}
	if d.String() != s {
		return decimal.Decimal{}, fmt.Errorf("%w: non-canonical decimal %q", ErrTruncatedData, s)
	}
	return d, nil
}

var errTrailingData = errors.New("trailing bytes")

func expectEnd(r *BufferReader) error {
	if r.Left() != 0 {
		return fmt.Errorf("%w: %w (%d)", ErrTruncatedData, errTrailingData, r.Left())
	}
	return nil
}

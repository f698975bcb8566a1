package crypto_test

import (
	"testing"

	"github.com/ledgerline/ledgerd/core/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	secret, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	pub, err := crypto.PublicKeyFromSecretKey(secret)
	require.NoError(t, err)

	hash := crypto.Hash([]byte("payload"))
	sig, err := crypto.Sign(hash, secret)
	require.NoError(t, err)

	assert.True(t, crypto.Verify(hash, sig, pub))

	t.Run("other hash", func(t *testing.T) {
		assert.False(t, crypto.Verify(crypto.Hash([]byte("other")), sig, pub))
	})

	t.Run("other key", func(t *testing.T) {
		otherSecret, err := crypto.GenerateSecretKey()
		require.NoError(t, err)
		otherPub, err := crypto.PublicKeyFromSecretKey(otherSecret)
		require.NoError(t, err)
		assert.False(t, crypto.Verify(hash, sig, otherPub))
	})

	t.Run("garbage public key", func(t *testing.T) {
		var garbage [crypto.PublicKeyLength]byte
		assert.False(t, crypto.Verify(hash, sig, garbage))
	})
}

func TestInvalidSecretKey(t *testing.T) {
	_, err := crypto.PublicKeyFromSecretKey([]byte{1, 2, 3})
	require.ErrorIs(t, err, crypto.ErrInvalidSecretKey)

	_, err = crypto.Sign(crypto.Hash(nil), make([]byte, crypto.SecretKeyLength))
	require.ErrorIs(t, err, crypto.ErrInvalidSecretKey)
}

func TestAddress(t *testing.T) {
	secret, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	pub, err := crypto.PublicKeyFromSecretKey(secret)
	require.NoError(t, err)

	address, err := crypto.AddressFromPublicKey(pub)
	require.NoError(t, err)
	assert.True(t, crypto.IsValidAddress(address))

	again, err := crypto.AddressFromPublicKey(pub)
	require.NoError(t, err)
	assert.Equal(t, address, again)

	t.Run("invalid public key", func(t *testing.T) {
		var garbage [crypto.PublicKeyLength]byte
		_, err := crypto.AddressFromPublicKey(garbage)
		require.ErrorIs(t, err, crypto.ErrInvalidPublicKey)
	})

	t.Run("not base58", func(t *testing.T) {
		assert.False(t, crypto.IsValidAddress("0OIl"))
		assert.False(t, crypto.IsValidAddress(""))
		assert.False(t, crypto.IsValidAddress("0"))
	})
}

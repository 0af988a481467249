package xrpl

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAccountID_Zero(t *testing.T) {
	assert.Equal(t, "rrrrrrrrrrrrrrrrrrrrrhoLvTp", EncodeAccountID([20]byte{}))
}

func TestWalletFromSeed_KnownVector(t *testing.T) {
	w, err := WalletFromSeed("sEdSKaCy2JT7JaM7v95H9SxkhP9wS2r")
	require.NoError(t, err)

	assert.Equal(t, "rLUEXYuLiQptky37CqLcm9USQpPiz5rkpD", w.Address())
	assert.Equal(t,
		"ED01FA53FA5A7E77798F882ECE20B1ABC00BB358A9E55A202D0D0676BD0CE37A63",
		strings.ToUpper(hex.EncodeToString(w.PublicKey())))
	assert.Equal(t, "sEdSKaCy2JT7JaM7v95H9SxkhP9wS2r", w.Seed())
}

func TestNewWallet_FromZeroEntropy(t *testing.T) {
	w, err := newWalletFrom(bytes.NewReader(make([]byte, 16)))
	require.NoError(t, err)
	assert.Equal(t, "r9zRhGr7b6xPekLvT6wP4qNdWMryaumZS7", w.Address())
	assert.Equal(t, "sEdSJHS4oiAdz7w2X2ni1gFiqtbJHqE", w.Seed())
}

func TestNewWallet_Unique(t *testing.T) {
	a, err := NewWallet()
	require.NoError(t, err)
	b, err := NewWallet()
	require.NoError(t, err)
	assert.NotEqual(t, a.Address(), b.Address())
	assert.True(t, ValidAddress(a.Address()))
}

func TestWallet_SignVerifies(t *testing.T) {
	w, err := WalletFromSeed("sEdSKaCy2JT7JaM7v95H9SxkhP9wS2r")
	require.NoError(t, err)

	msg := []byte("hello ledger")
	sig := w.Sign(msg)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(w.PublicKey()[1:]), msg, sig))
}

func TestDecodeAddress_Rejects(t *testing.T) {
	for _, addr := range []string{
		"",
		"rLUEXYuLiQptky37CqLcm9USQpPiz5rkpE", // checksum
		"sEdSKaCy2JT7JaM7v95H9SxkhP9wS2r",    // a seed, not an address
		"0xdeadbeef",
	} {
		_, err := DecodeAddress(addr)
		assert.ErrorIs(t, err, ErrInvalidAddress, addr)
	}
}

func TestWalletFromSeed_Rejects(t *testing.T) {
	_, err := WalletFromSeed("rLUEXYuLiQptky37CqLcm9USQpPiz5rkpD")
	assert.ErrorIs(t, err, ErrInvalidSeed)

	_, err = WalletFromSeed("sEdSKaCy2JT7JaM7v95H9SxkhP9wS2s")
	assert.ErrorIs(t, err, ErrInvalidSeed)
}

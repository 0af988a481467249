package xrpl

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

// alphabet is the XRP Ledger's base58 dictionary.
var alphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

var (
	accountIDPrefix   = []byte{0x00}
	ed25519SeedPrefix = []byte{0x01, 0xE1, 0x4B}

	// ed25519KeyPrefix marks a 33-byte ed25519 public key.
	ed25519KeyPrefix byte = 0xED
)

var (
	ErrInvalidAddress = errors.New("xrpl: invalid classic address")
	ErrInvalidSeed    = errors.New("xrpl: invalid ed25519 seed")
)

// Wallet is an ed25519 signing key plus its classic address. The private
// key never leaves the process.
type Wallet struct {
	entropy    [16]byte
	privateKey ed25519.PrivateKey
	publicKey  []byte // 0xED || 32-byte key
	accountID  [20]byte
	address    string
}

// NewWallet generates a wallet from fresh random entropy.
func NewWallet() (*Wallet, error) {
	return newWalletFrom(rand.Reader)
}

func newWalletFrom(r io.Reader) (*Wallet, error) {
	var entropy [16]byte
	if _, err := io.ReadFull(r, entropy[:]); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}
	return walletFromEntropy(entropy), nil
}

// WalletFromSeed restores a wallet from an "sEd..." family seed.
func WalletFromSeed(seed string) (*Wallet, error) {
	payload, err := decodeCheck(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if len(payload) != len(ed25519SeedPrefix)+16 || !bytes.HasPrefix(payload, ed25519SeedPrefix) {
		return nil, ErrInvalidSeed
	}
	var entropy [16]byte
	copy(entropy[:], payload[len(ed25519SeedPrefix):])
	return walletFromEntropy(entropy), nil
}

func walletFromEntropy(entropy [16]byte) *Wallet {
	sum := sha512.Sum512(entropy[:])
	priv := ed25519.NewKeyFromSeed(sum[:32])

	pub := make([]byte, 0, 33)
	pub = append(pub, ed25519KeyPrefix)
	pub = append(pub, priv.Public().(ed25519.PublicKey)...)

	w := &Wallet{
		entropy:    entropy,
		privateKey: priv,
		publicKey:  pub,
		accountID:  accountID(pub),
	}
	w.address = EncodeAccountID(w.accountID)
	return w
}

// Address returns the classic "r..." address.
func (w *Wallet) Address() string { return w.address }

// PublicKey returns a copy of the 33-byte prefixed public key.
func (w *Wallet) PublicKey() []byte {
	return append([]byte(nil), w.publicKey...)
}

// Seed encodes the wallet's entropy as an "sEd..." family seed.
func (w *Wallet) Seed() string {
	return encodeCheck(append(append([]byte(nil), ed25519SeedPrefix...), w.entropy[:]...))
}

// Sign signs msg with the wallet's private key.
func (w *Wallet) Sign(msg []byte) []byte {
	return ed25519.Sign(w.privateKey, msg)
}

// accountID is RIPEMD160(SHA256(publicKey)).
func accountID(publicKey []byte) [20]byte {
	sha := sha256.Sum256(publicKey)
	h := ripemd160.New()
	h.Write(sha[:])
	var id [20]byte
	copy(id[:], h.Sum(nil))
	return id
}

// EncodeAccountID renders a 20-byte account id as a classic address.
func EncodeAccountID(id [20]byte) string {
	return encodeCheck(append(append([]byte(nil), accountIDPrefix...), id[:]...))
}

// DecodeAddress parses a classic address into its account id.
func DecodeAddress(address string) ([20]byte, error) {
	var id [20]byte
	payload, err := decodeCheck(address)
	if err != nil {
		return id, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	if len(payload) != 21 || payload[0] != accountIDPrefix[0] {
		return id, fmt.Errorf("%w: %s", ErrInvalidAddress, address)
	}
	copy(id[:], payload[1:])
	return id, nil
}

// ValidAddress reports whether address is a well-formed classic address.
func ValidAddress(address string) bool {
	_, err := DecodeAddress(address)
	return err == nil
}

func encodeCheck(payload []byte) string {
	sum := checksum(payload)
	return base58.EncodeAlphabet(append(payload, sum[:]...), alphabet)
}

func decodeCheck(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty input")
	}
	raw, err := base58.DecodeAlphabet(s, alphabet)
	if err != nil {
		return nil, err
	}
	if len(raw) < 5 {
		return nil, errors.New("input too short")
	}
	payload, sum := raw[:len(raw)-4], raw[len(raw)-4:]
	want := checksum(payload)
	if !bytes.Equal(sum, want[:]) {
		return nil, errors.New("checksum mismatch")
	}
	return payload, nil
}

func checksum(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

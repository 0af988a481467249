package xrpl

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// TransactionType is the ledger's numeric transaction type code.
type TransactionType uint16

const (
	TxPayment    TransactionType = 0
	TxAccountSet TransactionType = 3
)

func (t TransactionType) String() string {
	switch t {
	case TxPayment:
		return "Payment"
	case TxAccountSet:
		return "AccountSet"
	default:
		return fmt.Sprintf("TransactionType(%d)", uint16(t))
	}
}

// Memo is an on-ledger memo. Fields are hex strings, exactly as they
// travel in JSON.
type Memo struct {
	MemoType   string `json:"MemoType,omitempty"`
	MemoData   string `json:"MemoData,omitempty"`
	MemoFormat string `json:"MemoFormat,omitempty"`
}

// Transaction holds the subset of transaction fields this service signs:
// AccountSet for annotations and XRP Payment for transfers.
type Transaction struct {
	TransactionType    TransactionType
	Account            string
	Destination        string // Payment only
	Amount             int64  // drops, Payment only
	Fee                int64  // drops
	Sequence           uint32
	LastLedgerSequence uint32
	Flags              uint32
	SigningPubKey      []byte
	TxnSignature       []byte
	Memos              []Memo
}

// Serialization type codes.
const (
	stUInt16    = 1
	stUInt32    = 2
	stAmount    = 6
	stBlob      = 7
	stAccountID = 8
	stObject    = 14
	stArray     = 15
)

var (
	prefixTxSign = []byte{0x53, 0x54, 0x58, 0x00} // "STX\0"
	prefixTxID   = []byte{0x54, 0x58, 0x4E, 0x00} // "TXN\0"

	ErrAmountRange = errors.New("xrpl: amount out of range")
)

// maxDrops is the total XRP supply in drops.
const maxDrops = 100_000_000_000 * DropsPerXRP

// encoder appends canonically ordered fields. Callers must add fields in
// (type code, field code) order.
type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) fieldID(typeCode, fieldCode int) {
	switch {
	case typeCode < 16 && fieldCode < 16:
		e.buf.WriteByte(byte(typeCode<<4 | fieldCode))
	case typeCode < 16:
		e.buf.WriteByte(byte(typeCode << 4))
		e.buf.WriteByte(byte(fieldCode))
	case fieldCode < 16:
		e.buf.WriteByte(byte(fieldCode))
		e.buf.WriteByte(byte(typeCode))
	default:
		e.buf.WriteByte(0)
		e.buf.WriteByte(byte(typeCode))
		e.buf.WriteByte(byte(fieldCode))
	}
}

func (e *encoder) uint16(fieldCode int, v uint16) {
	e.fieldID(stUInt16, fieldCode)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) uint32(fieldCode int, v uint32) {
	e.fieldID(stUInt32, fieldCode)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) xrpAmount(fieldCode int, drops int64) error {
	if drops < 0 || drops > maxDrops {
		return fmt.Errorf("%w: %d drops", ErrAmountRange, drops)
	}
	e.fieldID(stAmount, fieldCode)
	var b [8]byte
	// Bit 63 clear: native XRP. Bit 62 set: positive.
	binary.BigEndian.PutUint64(b[:], uint64(drops)|0x4000000000000000)
	e.buf.Write(b[:])
	return nil
}

func (e *encoder) blob(fieldCode int, data []byte) error {
	e.fieldID(stBlob, fieldCode)
	return e.vl(data)
}

func (e *encoder) account(fieldCode int, address string) error {
	id, err := DecodeAddress(address)
	if err != nil {
		return err
	}
	e.fieldID(stAccountID, fieldCode)
	return e.vl(id[:])
}

// vl writes a variable-length prefix followed by data.
func (e *encoder) vl(data []byte) error {
	n := len(data)
	switch {
	case n <= 192:
		e.buf.WriteByte(byte(n))
	case n <= 12480:
		n -= 193
		e.buf.WriteByte(byte(193 + n>>8))
		e.buf.WriteByte(byte(n & 0xff))
	case n <= 918744:
		n -= 12481
		e.buf.WriteByte(byte(241 + n>>16))
		e.buf.WriteByte(byte(n >> 8 & 0xff))
		e.buf.WriteByte(byte(n & 0xff))
	default:
		return fmt.Errorf("xrpl: blob of %d bytes too long", n)
	}
	e.buf.Write(data)
	return nil
}

func (e *encoder) memos(memos []Memo) error {
	e.fieldID(stArray, 9) // Memos
	for i, m := range memos {
		e.fieldID(stObject, 10) // Memo
		for _, f := range []struct {
			code int
			hex  string
		}{{12, m.MemoType}, {13, m.MemoData}, {14, m.MemoFormat}} {
			if f.hex == "" {
				continue
			}
			raw, err := hex.DecodeString(f.hex)
			if err != nil {
				return fmt.Errorf("memo %d: %w", i, err)
			}
			if err := e.blob(f.code, raw); err != nil {
				return err
			}
		}
		e.fieldID(stObject, 1) // ObjectEndMarker
	}
	e.fieldID(stArray, 1) // ArrayEndMarker
	return nil
}

// serialize encodes tx canonically. The signature is omitted when
// forSigning is set.
func (tx *Transaction) serialize(forSigning bool) ([]byte, error) {
	var e encoder

	e.uint16(2, uint16(tx.TransactionType))
	e.uint32(2, tx.Flags)
	e.uint32(4, tx.Sequence)
	if tx.LastLedgerSequence != 0 {
		e.uint32(27, tx.LastLedgerSequence)
	}
	if tx.TransactionType == TxPayment {
		if err := e.xrpAmount(1, tx.Amount); err != nil {
			return nil, err
		}
	}
	if err := e.xrpAmount(8, tx.Fee); err != nil {
		return nil, err
	}
	if err := e.blob(3, tx.SigningPubKey); err != nil {
		return nil, err
	}
	if !forSigning && len(tx.TxnSignature) > 0 {
		if err := e.blob(4, tx.TxnSignature); err != nil {
			return nil, err
		}
	}
	if err := e.account(1, tx.Account); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	if tx.TransactionType == TxPayment {
		if err := e.account(3, tx.Destination); err != nil {
			return nil, fmt.Errorf("destination: %w", err)
		}
	}
	if len(tx.Memos) > 0 {
		if err := e.memos(tx.Memos); err != nil {
			return nil, err
		}
	}
	return e.buf.Bytes(), nil
}

// SigningPayload returns the bytes a signer signs: "STX\0" || fields.
func (tx *Transaction) SigningPayload() ([]byte, error) {
	body, err := tx.serialize(true)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), prefixTxSign...), body...), nil
}

// Sign sets SigningPubKey and TxnSignature using w.
func (tx *Transaction) Sign(w *Wallet) error {
	if tx.Account != w.Address() {
		return fmt.Errorf("xrpl: wallet %s cannot sign for %s", w.Address(), tx.Account)
	}
	tx.SigningPubKey = w.PublicKey()
	payload, err := tx.SigningPayload()
	if err != nil {
		return err
	}
	tx.TxnSignature = w.Sign(payload)
	return nil
}

// Blob returns the hex-encoded signed transaction for submission.
func (tx *Transaction) Blob() (string, error) {
	if len(tx.TxnSignature) == 0 {
		return "", errors.New("xrpl: transaction is not signed")
	}
	body, err := tx.serialize(false)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(body)), nil
}

// Hash returns the transaction id: SHA-512Half("TXN\0" || signed blob).
func (tx *Transaction) Hash() (string, error) {
	body, err := tx.serialize(false)
	if err != nil {
		return "", err
	}
	sum := sha512.Sum512(append(append([]byte(nil), prefixTxID...), body...))
	return strings.ToUpper(hex.EncodeToString(sum[:32])), nil
}

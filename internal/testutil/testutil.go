// Package testutil builds payment transactions and envelopes for tests.
package testutil

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Address derives a deterministic mainnet P2PKH address from seed and
// returns it with its locking script.
func Address(seed string) (string, []byte) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160([]byte(seed)), &chaincfg.MainNetParams)
	if err != nil {
		panic(err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		panic(err)
	}
	return addr.EncodeAddress(), script
}

// NewTx builds a version 1 transaction spending a synthetic outpoint derived
// from funding and paying the given outputs.
func NewTx(funding string, outputs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	prev := chainhash.DoubleHashH([]byte(funding))
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), []byte{txscript.OP_TRUE}, nil))
	for _, out := range outputs {
		tx.AddTxOut(out)
	}
	return tx
}

// Pay is shorthand for an output of sats to script.
func Pay(sats int64, script []byte) *wire.TxOut {
	return wire.NewTxOut(sats, script)
}

// Raw serializes tx without witness data.
func Raw(tx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	if err := tx.SerializeNoWitness(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Hex returns the hex encoding of the raw transaction.
func Hex(tx *wire.MsgTx) string {
	return hex.EncodeToString(Raw(tx))
}

// Base64 returns the standard base64 encoding of the raw transaction.
func Base64(tx *wire.MsgTx) string {
	return base64.StdEncoding.EncodeToString(Raw(tx))
}

// Bump is a minimal one-level merkle path used to exercise envelope parsing.
type Bump struct {
	Height uint64
}

func (b Bump) write(buf *bytes.Buffer) {
	_ = wire.WriteVarInt(buf, 0, b.Height)
	buf.WriteByte(1) // tree height
	_ = wire.WriteVarInt(buf, 0, 2)

	// leaf 0: client txid with hash
	_ = wire.WriteVarInt(buf, 0, 0)
	buf.WriteByte(2)
	h := chainhash.DoubleHashH([]byte("leaf"))
	buf.Write(h[:])

	// leaf 1: duplicate, no hash
	_ = wire.WriteVarInt(buf, 0, 1)
	buf.WriteByte(1)
}

// EnvelopeV1 builds a BEEF v1 envelope. When bumps is non-empty the first
// transaction references bump 0.
func EnvelopeV1(bumps []Bump, txs ...*wire.MsgTx) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0x01, 0x00, 0xBE, 0xEF})
	_ = wire.WriteVarInt(&buf, 0, uint64(len(bumps)))
	for _, b := range bumps {
		b.write(&buf)
	}
	_ = wire.WriteVarInt(&buf, 0, uint64(len(txs)))
	for i, tx := range txs {
		buf.Write(Raw(tx))
		if i == 0 && len(bumps) > 0 {
			buf.WriteByte(1)
			_ = wire.WriteVarInt(&buf, 0, 0)
			continue
		}
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// EnvelopeV2 builds a BEEF v2 envelope. Each id in txidOnly is written as a
// txid-only entry ahead of the full transactions.
func EnvelopeV2(txidOnly []chainhash.Hash, txs ...*wire.MsgTx) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0x02, 0x00, 0xBE, 0xEF})
	_ = wire.WriteVarInt(&buf, 0, 0)
	_ = wire.WriteVarInt(&buf, 0, uint64(len(txidOnly)+len(txs)))
	for _, id := range txidOnly {
		buf.WriteByte(2)
		buf.Write(id[:])
	}
	for _, tx := range txs {
		buf.WriteByte(0)
		buf.Write(Raw(tx))
	}
	return buf.Bytes()
}

// AtomicEnvelope wraps a BEEF v1 envelope of txs with subject as the atomic
// subject.
func AtomicEnvelope(subject *wire.MsgTx, txs ...*wire.MsgTx) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0x01, 0x01, 0x01, 0x01})
	h := subject.TxHash()
	buf.Write(h[:])
	buf.Write(EnvelopeV1(nil, txs...))
	return buf.Bytes()
}

// B64 is base64.StdEncoding.EncodeToString.
func B64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

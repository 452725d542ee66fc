// Package txcodec decodes payment transactions submitted as proof of payment.
//
// A proof carries its transaction as a string in one of several encodings:
// hex of the raw transaction, base64 of the raw transaction, or base64 of a
// BEEF envelope (plain or atomic). Decode detects the encoding and returns a
// canonical Transaction regardless of how it arrived, so the same transaction
// decodes to equal values from every encoding.
package txcodec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// ErrInvalidFormat is wrapped by every decode failure.
var ErrInvalidFormat = errors.New("invalid transaction format")

// Input is a previous output consumed by a transaction.
type Input struct {
	PrevTxID  string `json:"prevTxid"`
	PrevIndex uint32 `json:"prevIndex"`
}

// Output is a transaction output: an amount and its locking script.
type Output struct {
	Satoshis      uint64 `json:"satoshis"`
	LockingScript []byte `json:"lockingScript"`
}

// Transaction is the canonical decoded view of a payment transaction.
type Transaction struct {
	// ID is the transaction hash in display (reversed) hex order.
	ID      string   `json:"txid"`
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
}

// TotalTo sums the satoshis of every output whose locking script equals script.
func (tx *Transaction) TotalTo(script []byte) (total uint64, first int) {
	first = -1
	for i, out := range tx.Outputs {
		if !bytes.Equal(out.LockingScript, script) {
			continue
		}
		if first < 0 {
			first = i
		}
		total += out.Satoshis
	}
	return total, first
}

// DecodeRaw parses a raw legacy-serialized transaction. The input must hold
// exactly one transaction with no trailing bytes.
func DecodeRaw(b []byte) (*Transaction, error) {
	r := bytes.NewReader(b)
	msg, err := readTx(r)
	if err != nil {
		return nil, invalid(err)
	}
	if r.Len() != 0 {
		return nil, invalid(fmt.Errorf("%d trailing bytes after transaction", r.Len()))
	}
	return fromMsgTx(msg), nil
}

func readTx(r *bytes.Reader) (*wire.MsgTx, error) {
	msg := &wire.MsgTx{}
	if err := msg.DeserializeNoWitness(r); err != nil {
		return nil, fmt.Errorf("parse transaction: %w", err)
	}
	for i, out := range msg.TxOut {
		if out.Value < 0 {
			return nil, fmt.Errorf("output %d has negative value %d", i, out.Value)
		}
	}
	return msg, nil
}

func fromMsgTx(msg *wire.MsgTx) *Transaction {
	tx := &Transaction{
		ID:      msg.TxHash().String(),
		Inputs:  make([]Input, 0, len(msg.TxIn)),
		Outputs: make([]Output, 0, len(msg.TxOut)),
	}
	for _, in := range msg.TxIn {
		tx.Inputs = append(tx.Inputs, Input{
			PrevTxID:  in.PreviousOutPoint.Hash.String(),
			PrevIndex: in.PreviousOutPoint.Index,
		})
	}
	for _, out := range msg.TxOut {
		script := make([]byte, len(out.PkScript))
		copy(script, out.PkScript)
		tx.Outputs = append(tx.Outputs, Output{
			Satoshis:      uint64(out.Value),
			LockingScript: script,
		})
	}
	return tx
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
}

package txcodec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Envelope magics as they appear on the wire (little-endian version words).
var (
	MagicEnvelopeV1     = []byte{0x01, 0x00, 0xBE, 0xEF}
	MagicEnvelopeV2     = []byte{0x02, 0x00, 0xBE, 0xEF}
	MagicAtomicEnvelope = []byte{0x01, 0x01, 0x01, 0x01}

	envelopeVersionV1 = binary.LittleEndian.Uint32(MagicEnvelopeV1)
	envelopeVersionV2 = binary.LittleEndian.Uint32(MagicEnvelopeV2)
)

const atomicSubjectIDBytes = chainhash.HashSize

// v2 per-transaction format bytes.
const (
	v2RawTx         byte = 0
	v2RawTxWithBump byte = 1
	v2TxIDOnly      byte = 2
)

// DecodeEnvelope parses a BEEF envelope and returns its subject, the last
// full transaction it contains.
func DecodeEnvelope(b []byte) (*Transaction, error) {
	txs, err := readEnvelope(bytes.NewReader(b))
	if err != nil {
		return nil, invalid(err)
	}
	return fromMsgTx(txs[len(txs)-1]), nil
}

// DecodeAtomicEnvelope parses an atomic BEEF envelope: the atomic magic, the
// 32-byte subject transaction hash, then a BEEF envelope that must contain
// the subject.
func DecodeAtomicEnvelope(b []byte) (*Transaction, error) {
	if len(b) < len(MagicAtomicEnvelope)+atomicSubjectIDBytes {
		return nil, invalid(errors.New("atomic envelope too short"))
	}
	if !bytes.HasPrefix(b, MagicAtomicEnvelope) {
		return nil, invalid(errors.New("missing atomic envelope magic"))
	}
	var subject chainhash.Hash
	copy(subject[:], b[4:4+atomicSubjectIDBytes])

	txs, err := readEnvelope(bytes.NewReader(b[4+atomicSubjectIDBytes:]))
	if err != nil {
		return nil, invalid(err)
	}
	for _, msg := range txs {
		if msg.TxHash() == subject {
			return fromMsgTx(msg), nil
		}
	}
	return nil, invalid(fmt.Errorf("subject transaction %s not in envelope", subject))
}

// readEnvelope returns every full transaction in the envelope, in order.
func readEnvelope(r *bytes.Reader) ([]*wire.MsgTx, error) {
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read envelope version: %w", err)
	}
	if version != envelopeVersionV1 && version != envelopeVersionV2 {
		return nil, fmt.Errorf("unknown envelope version %08x", version)
	}

	bumps, err := readCount(r, "bump")
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < bumps; i++ {
		if err := skipBump(r); err != nil {
			return nil, fmt.Errorf("bump %d: %w", i, err)
		}
	}

	count, err := readCount(r, "transaction")
	if err != nil {
		return nil, err
	}
	txs := make([]*wire.MsgTx, 0, count)
	for i := uint64(0); i < count; i++ {
		var msg *wire.MsgTx
		if version == envelopeVersionV1 {
			msg, err = readV1Entry(r, bumps)
		} else {
			msg, err = readV2Entry(r, bumps)
		}
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		if msg != nil {
			txs = append(txs, msg)
		}
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after envelope", r.Len())
	}
	if len(txs) == 0 {
		return nil, errors.New("envelope contains no transactions")
	}
	return txs, nil
}

func readV1Entry(r *bytes.Reader, bumps uint64) (*wire.MsgTx, error) {
	msg, err := readTx(r)
	if err != nil {
		return nil, err
	}
	hasBump, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read bump flag: %w", err)
	}
	switch hasBump {
	case 0:
	case 1:
		if err := readBumpIndex(r, bumps); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid bump flag %d", hasBump)
	}
	return msg, nil
}

func readV2Entry(r *bytes.Reader, bumps uint64) (*wire.MsgTx, error) {
	format, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read entry format: %w", err)
	}
	switch format {
	case v2RawTx:
		return readTx(r)
	case v2RawTxWithBump:
		if err := readBumpIndex(r, bumps); err != nil {
			return nil, err
		}
		return readTx(r)
	case v2TxIDOnly:
		if err := skip(r, chainhash.HashSize); err != nil {
			return nil, fmt.Errorf("read txid: %w", err)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid entry format %d", format)
	}
}

func readBumpIndex(r *bytes.Reader, bumps uint64) error {
	idx, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return fmt.Errorf("read bump index: %w", err)
	}
	if idx >= bumps {
		return fmt.Errorf("bump index %d out of range (%d bumps)", idx, bumps)
	}
	return nil
}

// skipBump consumes one BRC-74 merkle path. Paths are not validated here;
// proving inclusion is outside what the gate checks.
func skipBump(r *bytes.Reader) error {
	if _, err := wire.ReadVarInt(r, 0); err != nil {
		return fmt.Errorf("read block height: %w", err)
	}
	treeHeight, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("read tree height: %w", err)
	}
	for level := 0; level < int(treeHeight); level++ {
		leaves, err := readCount(r, "leaf")
		if err != nil {
			return fmt.Errorf("level %d: %w", level, err)
		}
		for j := uint64(0); j < leaves; j++ {
			if _, err := wire.ReadVarInt(r, 0); err != nil {
				return fmt.Errorf("level %d: read offset: %w", level, err)
			}
			flags, err := r.ReadByte()
			if err != nil {
				return fmt.Errorf("level %d: read flags: %w", level, err)
			}
			if flags > 2 {
				return fmt.Errorf("level %d: invalid leaf flags %d", level, flags)
			}
			// flag bit 0 marks a duplicate leaf, which carries no hash
			if flags&1 == 0 {
				if err := skip(r, chainhash.HashSize); err != nil {
					return fmt.Errorf("level %d: read hash: %w", level, err)
				}
			}
		}
	}
	return nil
}

// readCount reads a varint element count and rejects counts that cannot fit
// in the remaining bytes.
func readCount(r *bytes.Reader, what string) (uint64, error) {
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, fmt.Errorf("read %s count: %w", what, err)
	}
	if n > uint64(r.Len()) {
		return 0, fmt.Errorf("%s count %d exceeds remaining %d bytes", what, n, r.Len())
	}
	return n, nil
}

func skip(r *bytes.Reader, n int) error {
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return err
}

// ErrNoEnvelope is returned by ToAtomic for transactions submitted without
// an envelope.
var ErrNoEnvelope = errors.New("transaction was not submitted in an envelope")

// ToAtomic returns b, encoded as f, as an atomic envelope with subject txid.
// A plain envelope is wrapped; an atomic one is returned unchanged. Bare
// transactions carry no ancestry and cannot be converted.
func ToAtomic(f Format, b []byte, txid string) ([]byte, error) {
	switch f {
	case FormatAtomicEnvelope:
		return b, nil
	case FormatEnvelope:
		subject, err := chainhash.NewHashFromStr(txid)
		if err != nil {
			return nil, fmt.Errorf("subject txid: %w", err)
		}
		out := make([]byte, 0, len(MagicAtomicEnvelope)+atomicSubjectIDBytes+len(b))
		out = append(out, MagicAtomicEnvelope...)
		out = append(out, subject[:]...)
		return append(out, b...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoEnvelope, f)
	}
}

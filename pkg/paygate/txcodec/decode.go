package txcodec

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Format identifies how a submitted transaction string was encoded.
type Format int

const (
	FormatUnknown Format = iota
	// FormatHex is a hex-encoded raw transaction.
	FormatHex
	// FormatEnvelope is a base64-encoded BEEF envelope (v1 or v2).
	FormatEnvelope
	// FormatAtomicEnvelope is a base64-encoded atomic BEEF envelope.
	FormatAtomicEnvelope
	// FormatRaw is a base64-encoded raw transaction.
	FormatRaw
)

func (f Format) String() string {
	switch f {
	case FormatHex:
		return "hex"
	case FormatEnvelope:
		return "beef"
	case FormatAtomicEnvelope:
		return "atomic-beef"
	case FormatRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Decoded is a decoded proof transaction together with the format it was
// submitted in and the bytes that format carried.
type Decoded struct {
	Format Format
	Bytes  []byte
	Tx     *Transaction
}

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// Detect classifies s and returns the bytes it encodes. It does not parse the
// transaction itself.
func Detect(s string) (Format, []byte, error) {
	if s == "" {
		return FormatUnknown, nil, invalid(errors.New("empty transaction"))
	}

	if hexPattern.MatchString(s) {
		b, err := hex.DecodeString(s)
		if err != nil {
			return FormatUnknown, nil, invalid(fmt.Errorf("decode hex: %w", err))
		}
		return FormatHex, b, nil
	}

	b, err := decodeBase64(s)
	if err != nil {
		return FormatUnknown, nil, invalid(err)
	}
	switch {
	case bytes.HasPrefix(b, MagicEnvelopeV1), bytes.HasPrefix(b, MagicEnvelopeV2):
		return FormatEnvelope, b, nil
	case bytes.HasPrefix(b, MagicAtomicEnvelope):
		return FormatAtomicEnvelope, b, nil
	default:
		return FormatRaw, b, nil
	}
}

// Decode detects the encoding of s and decodes the transaction it carries.
// All failures wrap ErrInvalidFormat.
func Decode(s string) (*Decoded, error) {
	format, b, err := Detect(s)
	if err != nil {
		return nil, err
	}

	var tx *Transaction
	switch format {
	case FormatHex, FormatRaw:
		tx, err = DecodeRaw(b)
	case FormatEnvelope:
		tx, err = DecodeEnvelope(b)
	case FormatAtomicEnvelope:
		tx, err = DecodeAtomicEnvelope(b)
	default:
		err = invalid(fmt.Errorf("unsupported format %s", format))
	}
	if err != nil {
		return nil, err
	}
	return &Decoded{Format: format, Bytes: b, Tx: tx}, nil
}

func decodeBase64(s string) ([]byte, error) {
	var firstErr error
	for _, enc := range base64Encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("decode base64: %w", firstErr)
}

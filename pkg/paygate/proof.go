package paygate

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Proof is the client-supplied payment proof carried in the payment header.
type Proof struct {
	DerivationPrefix string `json:"derivationPrefix"`
	DerivationSuffix string `json:"derivationSuffix,omitempty"`
	Transaction      string `json:"transaction"`
}

// ParseProof decodes a payment header value. The value is the proof JSON,
// or that JSON base64 encoded. A missing suffix defaults to
// DefaultDerivationSuffix.
func ParseProof(header string) (*Proof, error) {
	raw := strings.TrimSpace(header)
	if raw == "" {
		return nil, errors.New("empty payment header")
	}
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, errors.New("payment header is neither JSON nor base64 JSON")
		}
		raw = string(decoded)
	}

	var p Proof
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	if p.DerivationPrefix == "" {
		return nil, errors.New("proof is missing derivationPrefix")
	}
	if p.Transaction == "" {
		return nil, errors.New("proof is missing transaction")
	}
	if p.DerivationSuffix == "" {
		p.DerivationSuffix = DefaultDerivationSuffix
	}
	return &p, nil
}

// Encode serializes the proof for the payment header.
func (p *Proof) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode proof: %w", err)
	}
	return string(b), nil
}

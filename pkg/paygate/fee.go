package paygate

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/siddimore/bsv-paygate/pkg/paygate/txcodec"
)

// FeePolicy selects how a protocol fee output is recognized.
type FeePolicy string

const (
	// FeePolicyAddress requires outputs paying Address to sum to at least
	// the fee.
	FeePolicyAddress FeePolicy = "address"

	// FeePolicyStructural requires some output after the primary payment
	// output to carry at least the fee. The destination is not checked; the
	// collector re-validates when it sweeps.
	FeePolicyStructural FeePolicy = "structural"
)

// ProtocolFee configures a secondary fee output required alongside the
// primary payment.
type ProtocolFee struct {
	Satoshis uint64    `yaml:"satoshis" json:"satoshis"`
	Policy   FeePolicy `yaml:"policy" json:"policy"`

	// Address is the fee recipient under FeePolicyAddress.
	Address string `yaml:"address" json:"address,omitempty"`

	// IdentityKey, KeyID and DerivationSuffix are announced to payers so they
	// can derive the fee output under FeePolicyStructural.
	IdentityKey      string `yaml:"identity_key" json:"identityKey,omitempty"`
	KeyID            string `yaml:"key_id" json:"keyId,omitempty"`
	DerivationSuffix string `yaml:"derivation_suffix" json:"derivationSuffix,omitempty"`
}

// FeeChecker reports whether tx carries the protocol fee. primaryIndex is
// the index of the primary payment output.
type FeeChecker interface {
	CheckFee(tx *txcodec.Transaction, primaryIndex int) bool
}

// AddressFeeChecker sums the outputs paying Script.
type AddressFeeChecker struct {
	Satoshis uint64
	Script   []byte
}

// CheckFee sums outputs locked to the fee script. It is independent of the
// primary payment check, so an output counted there may also count here.
func (c *AddressFeeChecker) CheckFee(tx *txcodec.Transaction, _ int) bool {
	total, _ := tx.TotalTo(c.Script)
	return total >= c.Satoshis
}

// StructuralFeeChecker accepts any output after the primary one carrying
// at least Satoshis.
type StructuralFeeChecker struct {
	Satoshis uint64
}

// CheckFee scans the outputs following primaryIndex.
func (c *StructuralFeeChecker) CheckFee(tx *txcodec.Transaction, primaryIndex int) bool {
	if primaryIndex < 0 {
		primaryIndex = 0
	}
	for i := primaryIndex + 1; i < len(tx.Outputs); i++ {
		if tx.Outputs[i].Satoshis >= c.Satoshis {
			return true
		}
	}
	return false
}

// NewFeeChecker builds the checker for fee's policy. The policy must be set
// explicitly; there is no fallback between policies.
func NewFeeChecker(fee *ProtocolFee, params *chaincfg.Params) (FeeChecker, error) {
	if fee.Satoshis == 0 {
		return nil, fmt.Errorf("protocol fee: satoshis must be positive")
	}
	switch fee.Policy {
	case FeePolicyAddress:
		if fee.Address == "" {
			return nil, fmt.Errorf("protocol fee: %s policy needs an address", fee.Policy)
		}
		script, err := LockingScript(fee.Address, params)
		if err != nil {
			return nil, fmt.Errorf("protocol fee: %w", err)
		}
		return &AddressFeeChecker{Satoshis: fee.Satoshis, Script: script}, nil
	case FeePolicyStructural:
		return &StructuralFeeChecker{Satoshis: fee.Satoshis}, nil
	default:
		return nil, fmt.Errorf("protocol fee: unknown policy %q", fee.Policy)
	}
}

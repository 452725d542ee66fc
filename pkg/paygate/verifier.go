package paygate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/siddimore/bsv-paygate/pkg/paygate/txcodec"
)

// DefaultDelegateTimeout bounds a wallet delegate call when none is configured.
const DefaultDelegateTimeout = 10 * time.Second

// Verification is the result of an accepted payment. It is attached to the
// request context of admitted requests.
type Verification struct {
	Accepted         bool   `json:"accepted"`
	SatoshisPaid     uint64 `json:"satoshisPaid"`
	TxID             string `json:"txid,omitempty"`
	DerivationPrefix string `json:"derivationPrefix,omitempty"`

	// Internalized is set when a wallet delegate took ownership of the output.
	Internalized bool `json:"internalized,omitempty"`

	// OutputIndex is the primary payment output.
	OutputIndex int `json:"outputIndex"`
}

// VerifyRequest is the input to a Verifier.
type VerifyRequest struct {
	Decoded          *txcodec.Decoded
	Proof            *Proof
	RequiredSatoshis uint64
	IdentityKey      string
	Description      string
}

// Verifier decides whether a decoded transaction pays enough. Rejections are
// returned as *PaymentError.
type Verifier interface {
	Verify(ctx context.Context, req *VerifyRequest) (*Verification, error)
}

// NetworkParams resolves a network name to its address parameters.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "", "main", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "test", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

// LockingScript returns the pay-to-address script for address on params.
func LockingScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	if !addr.IsForNet(params) {
		return nil, fmt.Errorf("address %q is not for network %s", address, params.Name)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("build script for %q: %w", address, err)
	}
	return script, nil
}

// StaticVerifier sums the outputs paying a fixed recipient script.
type StaticVerifier struct {
	address string
	script  []byte
}

// NewStaticVerifier precomputes the recipient's locking script.
func NewStaticVerifier(address string, params *chaincfg.Params) (*StaticVerifier, error) {
	script, err := LockingScript(address, params)
	if err != nil {
		return nil, err
	}
	return &StaticVerifier{address: address, script: script}, nil
}

// Verify accepts iff the outputs paying the recipient sum to at least the
// required amount.
func (v *StaticVerifier) Verify(_ context.Context, req *VerifyRequest) (*Verification, error) {
	tx := req.Decoded.Tx
	paid, first := tx.TotalTo(v.script)
	if paid < req.RequiredSatoshis || first < 0 {
		return nil, insufficientPayment(paid, req.RequiredSatoshis)
	}
	return &Verification{
		Accepted:         true,
		SatoshisPaid:     paid,
		TxID:             tx.ID,
		DerivationPrefix: req.Proof.DerivationPrefix,
		OutputIndex:      first,
	}, nil
}

// DelegatedVerifier hands the payment to a wallet that recognizes
// derivation-scoped outputs as its own.
type DelegatedVerifier struct {
	wallet  Wallet
	timeout time.Duration
}

// NewDelegatedVerifier wraps wallet. A non-positive timeout selects
// DefaultDelegateTimeout.
func NewDelegatedVerifier(wallet Wallet, timeout time.Duration) *DelegatedVerifier {
	if timeout <= 0 {
		timeout = DefaultDelegateTimeout
	}
	return &DelegatedVerifier{wallet: wallet, timeout: timeout}
}

// paymentOutput is the output claimed from the wallet.
const paymentOutput = 0

// Verify asks the wallet to internalize the payment output. The wallet's
// reported amount is used when present, otherwise the claimed output's.
func (v *DelegatedVerifier) Verify(ctx context.Context, req *VerifyRequest) (*Verification, error) {
	tx := req.Decoded.Tx
	if len(tx.Outputs) <= paymentOutput {
		return nil, invalidTransaction(fmt.Errorf("%w: transaction has no outputs", txcodec.ErrInvalidFormat))
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	res, err := v.wallet.Internalize(ctx, &InternalizeRequest{
		Tx:     req.Decoded.Bytes,
		Format: req.Decoded.Format,
		TxID:   tx.ID,
		Outputs: []OutputClaim{{
			OutputIndex:       paymentOutput,
			DerivationPrefix:  req.Proof.DerivationPrefix,
			DerivationSuffix:  req.Proof.DerivationSuffix,
			SenderIdentityKey: req.IdentityKey,
		}},
		Description: req.Description,
	})
	if err != nil {
		return nil, delegateFailure(err)
	}
	if res == nil || !res.Accepted {
		msg := "wallet rejected payment"
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		return nil, delegateFailure(errors.New(msg))
	}

	paid := res.Satoshis
	if paid == 0 {
		paid = tx.Outputs[paymentOutput].Satoshis
	}
	if paid < req.RequiredSatoshis {
		return nil, insufficientPayment(paid, req.RequiredSatoshis)
	}
	return &Verification{
		Accepted:         true,
		SatoshisPaid:     paid,
		TxID:             tx.ID,
		DerivationPrefix: req.Proof.DerivationPrefix,
		Internalized:     true,
		OutputIndex:      paymentOutput,
	}, nil
}

package paygate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/siddimore/bsv-paygate/pkg/paygate/txcodec"
)

// Config holds the configuration for a payment gate
type Config struct {
	// RecipientAddress is the address payments are matched against and
	// announced in challenges.
	RecipientAddress string

	// Network selects address parameters. Defaults to mainnet.
	Network *chaincfg.Params

	// Pricing quotes each request. Required.
	Pricing PricingPolicy

	// Wallet, if set, switches verification to the wallet delegate.
	Wallet Wallet

	// DelegateTimeout bounds each wallet call.
	DelegateTimeout time.Duration

	// Fee is an optional protocol fee required on every payment.
	Fee *ProtocolFee

	// Replay defaults to a MemoryReplayGuard with default bounds.
	Replay ReplayGuard

	// Receipts, if set, records every accepted payment.
	Receipts ReceiptStore

	// Metrics may be nil.
	Metrics *Metrics

	Logger *slog.Logger

	// ExemptPaths lists path prefixes that bypass the gate
	ExemptPaths []string

	// PaymentHeader and IdentityKeyHeader override the request header names.
	PaymentHeader     string
	IdentityKeyHeader string
}

// Gate decides, per request, whether to admit, challenge or reject.
type Gate struct {
	config    Config
	verifier  Verifier
	delegated bool
	fee       FeeChecker
	replay    ReplayGuard
	log       *slog.Logger
}

// New validates config and builds a gate.
func New(config Config) (*Gate, error) {
	if config.Pricing == nil {
		return nil, errors.New("paygate: pricing policy is required")
	}
	if config.RecipientAddress == "" {
		return nil, errors.New("paygate: recipient address is required")
	}
	if config.Network == nil {
		config.Network = &chaincfg.MainNetParams
	}
	if config.Replay == nil {
		config.Replay = NewMemoryReplayGuard(DefaultReplayCapacity, DefaultReplayPrune)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PaymentHeader == "" {
		config.PaymentHeader = HeaderPayment
	}
	if config.IdentityKeyHeader == "" {
		config.IdentityKeyHeader = HeaderIdentityKey
	}

	g := &Gate{
		config: config,
		replay: config.Replay,
		log:    config.Logger,
	}

	if config.Wallet != nil {
		g.verifier = NewDelegatedVerifier(config.Wallet, config.DelegateTimeout)
		g.delegated = true
	} else {
		v, err := NewStaticVerifier(config.RecipientAddress, config.Network)
		if err != nil {
			return nil, fmt.Errorf("paygate: %w", err)
		}
		g.verifier = v
	}

	if config.Fee != nil {
		fc, err := NewFeeChecker(config.Fee, config.Network)
		if err != nil {
			return nil, fmt.Errorf("paygate: %w", err)
		}
		g.fee = fc
	}
	return g, nil
}

// State is where a request ended up in the gate.
//
// StateAwaitingDecision and StateVerifying are transient: Process passes
// through them but every Outcome carries one of the terminal states Free,
// Challenged, Accepted or Rejected.
type State int

const (
	StateAwaitingDecision State = iota
	StateFree
	StateChallenged
	StateVerifying
	StateAccepted
	StateRejected
)

// Terminal reports whether s can be carried by an Outcome.
func (s State) Terminal() bool {
	switch s {
	case StateFree, StateChallenged, StateAccepted, StateRejected:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s {
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateFree:
		return "free"
	case StateChallenged:
		return "challenged"
	case StateVerifying:
		return "verifying"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Request is the transport-independent view of an inbound request.
type Request struct {
	Method string
	Path   string

	// Price is the quoted satoshis; 0 means free.
	Price uint64

	// Proof is the raw payment header value, empty if absent.
	Proof       string
	IdentityKey string
}

// Outcome is the gate's decision for one request.
type Outcome struct {
	State        State
	Challenge    *Challenge
	Verification *Verification
	Err          *PaymentError
}

// Exempt reports whether path bypasses the gate.
func (g *Gate) Exempt(path string) bool {
	for _, prefix := range g.config.ExemptPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Evaluate quotes r and runs it through Process.
func (g *Gate) Evaluate(r *http.Request) *Outcome {
	price, err := g.config.Pricing.Quote(r)
	if err != nil {
		return g.reject(Request{Method: r.Method, Path: r.URL.Path}, internalError("quote price", err))
	}
	return g.Process(r.Context(), Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		Price:       price,
		Proof:       r.Header.Get(g.config.PaymentHeader),
		IdentityKey: r.Header.Get(g.config.IdentityKeyHeader),
	})
}

// Process runs the payment steps for one request: price, challenge,
// decode, replay check, verify, fee check, record.
func (g *Gate) Process(ctx context.Context, req Request) *Outcome {
	if req.Price == 0 {
		g.config.Metrics.observeOutcome(StateFree, "")
		return &Outcome{
			State:        StateFree,
			Verification: &Verification{Accepted: true, OutputIndex: -1},
		}
	}

	if req.Proof == "" {
		c, err := IssueChallenge(req.Price, g.config.RecipientAddress, g.config.Fee)
		if err != nil {
			return g.reject(req, internalError("issue challenge", err))
		}
		g.config.Metrics.observeOutcome(StateChallenged, ErrCodePaymentRequired)
		g.log.Debug("payment required", "path", req.Path, "satoshis", req.Price)
		return &Outcome{State: StateChallenged, Challenge: c}
	}

	proof, err := ParseProof(req.Proof)
	if err != nil {
		return g.reject(req, malformedProof(err))
	}

	seen, err := g.replay.Seen(ctx, proof.DerivationPrefix)
	if err != nil {
		return g.reject(req, internalError("replay check", err))
	}
	if seen {
		return g.reject(req, replayDetected(proof.DerivationPrefix))
	}

	decoded, err := txcodec.Decode(proof.Transaction)
	if err != nil {
		return g.reject(req, invalidTransaction(err))
	}

	start := time.Now()
	v, err := g.verifier.Verify(ctx, &VerifyRequest{
		Decoded:          decoded,
		Proof:            proof,
		RequiredSatoshis: req.Price,
		IdentityKey:      req.IdentityKey,
		Description:      describe(req),
	})
	if g.delegated {
		g.config.Metrics.observeDelegate(time.Since(start), err)
	}
	if err != nil {
		return g.reject(req, asPaymentError("verify payment", err))
	}

	if g.fee != nil && !g.fee.CheckFee(decoded.Tx, v.OutputIndex) {
		return g.reject(req, missingProtocolFee(g.config.Fee.Satoshis))
	}

	recorded, err := g.replay.Record(ctx, proof.DerivationPrefix)
	if err != nil {
		return g.reject(req, internalError("record prefix", err))
	}
	if !recorded {
		return g.reject(req, replayDetected(proof.DerivationPrefix))
	}

	if g.config.Receipts != nil {
		if err := g.config.Receipts.RecordReceipt(NewReceipt(req, v)); err != nil {
			g.log.Error("failed to record receipt", "txid", v.TxID, "error", err)
		}
	}
	g.config.Metrics.observeAccepted(v)
	g.log.Info("payment accepted",
		"path", req.Path,
		"txid", v.TxID,
		"satoshis", v.SatoshisPaid,
		"format", decoded.Format.String(),
	)
	return &Outcome{State: StateAccepted, Verification: v}
}

func (g *Gate) reject(req Request, pe *PaymentError) *Outcome {
	g.config.Metrics.observeOutcome(StateRejected, pe.Code)
	if pe.Status >= http.StatusInternalServerError {
		g.log.Error("payment processing failed", "path", req.Path, "error", pe.Err)
	} else {
		g.log.Warn("payment rejected", "path", req.Path, "code", pe.Code, "error", pe.Message)
	}
	return &Outcome{State: StateRejected, Err: pe}
}

// maxDescription is the longest description a wallet accepts.
const maxDescription = 50

func describe(req Request) string {
	d := "Payment for " + req.Method + " " + req.Path
	if len(d) <= maxDescription {
		return d
	}
	n := maxDescription
	for n > 0 && !utf8.RuneStart(d[n]) {
		n--
	}
	return d[:n]
}

package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/siddimore/bsv-paygate/pkg/paygate/txcodec"
)

// OutputClaim binds a transaction output to the derivation data the wallet
// needs to recognize it.
type OutputClaim struct {
	OutputIndex       uint32
	DerivationPrefix  string
	DerivationSuffix  string
	SenderIdentityKey string
}

// InternalizeRequest asks a wallet to take ownership of payment outputs.
type InternalizeRequest struct {
	// Tx is the transaction in the encoding it was submitted with.
	Tx     []byte
	Format txcodec.Format

	// TxID is the id of the payment transaction within Tx.
	TxID string

	Outputs     []OutputClaim
	Description string
	Labels      []string
}

// InternalizeResult is the wallet's decision.
type InternalizeResult struct {
	Accepted bool
	// Satoshis is the amount the wallet credited, or 0 if it did not say.
	Satoshis uint64
	Message  string
}

// Wallet internalizes payments on behalf of the gate.
type Wallet interface {
	Internalize(ctx context.Context, req *InternalizeRequest) (*InternalizeResult, error)
}

// WalletFunc adapts a function to Wallet.
type WalletFunc func(ctx context.Context, req *InternalizeRequest) (*InternalizeResult, error)

// Internalize calls f(ctx, req).
func (f WalletFunc) Internalize(ctx context.Context, req *InternalizeRequest) (*InternalizeResult, error) {
	return f(ctx, req)
}

// WalletConfig holds configuration for an HTTP wallet.
type WalletConfig struct {
	// Endpoint is the base URL of the wallet's HTTP interface.
	Endpoint string

	// Originator identifies this gate to the wallet.
	Originator string

	// Timeout is the HTTP client timeout
	Timeout time.Duration

	// Client overrides the HTTP client.
	Client *http.Client
}

// HTTPWallet calls internalizeAction on a wallet over HTTP.
type HTTPWallet struct {
	endpoint   string
	originator string
	client     *http.Client
}

// NewHTTPWallet creates a wallet client.
func NewHTTPWallet(config WalletConfig) *HTTPWallet {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &HTTPWallet{
		endpoint:   strings.TrimRight(config.Endpoint, "/"),
		originator: config.Originator,
		client:     client,
	}
}

// byteArray marshals as a JSON array of numbers, the wallet wire form for
// transaction bytes.
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

type paymentRemittance struct {
	DerivationPrefix  string `json:"derivationPrefix"`
	DerivationSuffix  string `json:"derivationSuffix"`
	SenderIdentityKey string `json:"senderIdentityKey,omitempty"`
}

type internalizeOutput struct {
	OutputIndex       uint32            `json:"outputIndex"`
	Protocol          string            `json:"protocol"`
	PaymentRemittance paymentRemittance `json:"paymentRemittance"`
}

type internalizeActionArgs struct {
	Tx          byteArray           `json:"tx"`
	Outputs     []internalizeOutput `json:"outputs"`
	Description string              `json:"description"`
	Labels      []string            `json:"labels,omitempty"`
}

type internalizeActionResult struct {
	Accepted bool   `json:"accepted"`
	Satoshis uint64 `json:"satoshis,omitempty"`
	Message  string `json:"message,omitempty"`
}

type walletErrorResponse struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

// Internalize POSTs the request to <endpoint>/internalizeAction. The wallet
// takes atomic envelopes only: plain envelopes are wrapped, and bare
// transactions are refused before any call is made.
func (w *HTTPWallet) Internalize(ctx context.Context, req *InternalizeRequest) (*InternalizeResult, error) {
	tx, err := txcodec.ToAtomic(req.Format, req.Tx, req.TxID)
	if err != nil {
		return nil, fmt.Errorf("wallet needs an envelope: %w", err)
	}
	args := internalizeActionArgs{
		Tx:          byteArray(tx),
		Description: req.Description,
		Labels:      req.Labels,
	}
	for _, o := range req.Outputs {
		args.Outputs = append(args.Outputs, internalizeOutput{
			OutputIndex: o.OutputIndex,
			Protocol:    "wallet payment",
			PaymentRemittance: paymentRemittance{
				DerivationPrefix:  o.DerivationPrefix,
				DerivationSuffix:  o.DerivationSuffix,
				SenderIdentityKey: o.SenderIdentityKey,
			},
		})
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode internalizeAction: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint+"/internalizeAction", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if w.originator != "" {
		httpReq.Header.Set("Origin", w.originator)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("wallet request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var werr walletErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &werr) == nil {
			if werr.Message != "" {
				return nil, fmt.Errorf("wallet returned %d: %s", resp.StatusCode, werr.Message)
			}
			if werr.Description != "" {
				return nil, fmt.Errorf("wallet returned %d: %s", resp.StatusCode, werr.Description)
			}
		}
		return nil, fmt.Errorf("wallet returned %d", resp.StatusCode)
	}

	var out internalizeActionResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode internalizeAction response: %w", err)
	}
	return &InternalizeResult{Accepted: out.Accepted, Satoshis: out.Satoshis, Message: out.Message}, nil
}

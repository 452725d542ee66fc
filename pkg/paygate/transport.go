package paygate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Payer builds a payment proof answering a challenge.
type Payer interface {
	Pay(ctx context.Context, c *Challenge) (*Proof, error)
}

// PayerFunc adapts a function to Payer.
type PayerFunc func(ctx context.Context, c *Challenge) (*Proof, error)

// Pay calls f(ctx, c).
func (f PayerFunc) Pay(ctx context.Context, c *Challenge) (*Proof, error) {
	return f(ctx, c)
}

// PaymentEvent describes one paid retry.
type PaymentEvent struct {
	URL              string
	SatoshisRequired uint64
	DerivationPrefix string
	StatusCode       int
	Duration         time.Duration
	Err              error
}

// ErrBudgetExceeded is returned when a challenge asks for more than the
// transport's MaxSatoshis.
var ErrBudgetExceeded = errors.New("paygate: challenge exceeds payment budget")

// Transport is an http.RoundTripper that answers 402 challenges. It wraps
// Base, and on a 402 asks Payer for a proof and retries the request once
// with the payment header set.
type Transport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	Payer Payer

	// MaxSatoshis, if non-zero, caps what a single challenge may ask.
	MaxSatoshis uint64

	// IdentityKey is sent with paid retries when set.
	IdentityKey string

	// OnPayment is called after every paid retry.
	OnPayment func(PaymentEvent)
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req.Clone(req.Context()))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}
	// a body that cannot be replayed cannot be retried
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}

	challenge, err := ParseChallenge(resp.Header)
	if err != nil {
		// a 402 without a BSV challenge is returned as is
		return resp, nil
	}
	resp.Body.Close()

	if t.MaxSatoshis > 0 && challenge.RequiredSatoshis > t.MaxSatoshis {
		return nil, fmt.Errorf("%w: %d > %d", ErrBudgetExceeded, challenge.RequiredSatoshis, t.MaxSatoshis)
	}

	start := time.Now()
	proof, err := t.Payer.Pay(req.Context(), challenge)
	if err != nil {
		t.notify(req, challenge, 0, start, err)
		return nil, fmt.Errorf("pay challenge: %w", err)
	}
	header, err := proof.Encode()
	if err != nil {
		t.notify(req, challenge, 0, start, err)
		return nil, err
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		retry.Body = body
	}
	retry.Header.Set(HeaderPayment, header)
	if t.IdentityKey != "" {
		retry.Header.Set(HeaderIdentityKey, t.IdentityKey)
	}

	resp, err = base.RoundTrip(retry)
	if err != nil {
		t.notify(req, challenge, 0, start, err)
		return nil, err
	}
	t.notify(req, challenge, resp.StatusCode, start, nil)
	return resp, nil
}

func (t *Transport) notify(req *http.Request, c *Challenge, status int, start time.Time, err error) {
	if t.OnPayment == nil {
		return
	}
	t.OnPayment(PaymentEvent{
		URL:              req.URL.String(),
		SatoshisRequired: c.RequiredSatoshis,
		DerivationPrefix: c.DerivationPrefix,
		StatusCode:       status,
		Duration:         time.Since(start),
		Err:              err,
	})
}

// NewClient returns an http.Client paying challenges with payer.
func NewClient(payer Payer, maxSatoshis uint64) *http.Client {
	return &http.Client{Transport: &Transport{Payer: payer, MaxSatoshis: maxSatoshis}}
}

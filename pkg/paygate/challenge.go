package paygate

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/siddimore/bsv-paygate/internal"
)

// Challenge is the 402 response issued to an unpaid request. It is built
// once per request and never stored.
type Challenge struct {
	RequiredSatoshis uint64
	DerivationPrefix string
	RecipientAddress string
	Version          string
	Description      string
	Fee              *ProtocolFee
}

// ChallengeBody is the JSON body of a 402 challenge response.
type ChallengeBody struct {
	Status              string    `json:"status"`
	Code                ErrorCode `json:"code"`
	SatoshisRequired    uint64    `json:"satoshisRequired"`
	OperatorAddress     string    `json:"operatorAddress"`
	DerivationPrefix    string    `json:"derivationPrefix"`
	Description         string    `json:"description"`
	FeeSatoshisRequired uint64    `json:"feeSatoshisRequired,omitempty"`
	FeeKeyID            string    `json:"feeKid,omitempty"`
	FeeDerivationSuffix string    `json:"feeDerivationSuffix,omitempty"`
	FeeAddress          string    `json:"feeAddress,omitempty"`
	FeeIdentityKey      string    `json:"feeIdentityKey,omitempty"`
}

// IssueChallenge creates a challenge for required satoshis payable to
// recipient, with a fresh random derivation prefix. fee may be nil.
func IssueChallenge(required uint64, recipient string, fee *ProtocolFee) (*Challenge, error) {
	prefix, err := internal.RandomBase64(internal.PrefixEntropy)
	if err != nil {
		return nil, fmt.Errorf("generate derivation prefix: %w", err)
	}
	return &Challenge{
		RequiredSatoshis: required,
		DerivationPrefix: prefix,
		RecipientAddress: recipient,
		Version:          ProtocolVersion,
		Description:      fmt.Sprintf("Payment of %d satoshis required to access this resource", required),
		Fee:              fee,
	}, nil
}

// SetHeaders writes the challenge headers.
func (c *Challenge) SetHeaders(h http.Header) {
	h.Set(HeaderVersion, c.Version)
	h.Set(HeaderSatoshisRequired, strconv.FormatUint(c.RequiredSatoshis, 10))
	h.Set(HeaderDerivationPrefix, c.DerivationPrefix)
	h.Set(HeaderAddress, c.RecipientAddress)

	if c.Fee == nil {
		return
	}
	h.Set(HeaderFeeSatoshis, strconv.FormatUint(c.Fee.Satoshis, 10))
	if c.Fee.KeyID != "" {
		h.Set(HeaderFeeKeyID, c.Fee.KeyID)
	}
	if c.Fee.DerivationSuffix != "" {
		h.Set(HeaderFeeDerivationSufx, c.Fee.DerivationSuffix)
	}
	switch c.Fee.Policy {
	case FeePolicyAddress:
		h.Set(HeaderFeeAddress, c.Fee.Address)
	case FeePolicyStructural:
		if c.Fee.IdentityKey != "" {
			h.Set(HeaderFeeIdentityKey, c.Fee.IdentityKey)
		}
	}
}

// Body returns the JSON body for the challenge.
func (c *Challenge) Body() ChallengeBody {
	body := ChallengeBody{
		Status:           "error",
		Code:             ErrCodePaymentRequired,
		SatoshisRequired: c.RequiredSatoshis,
		OperatorAddress:  c.RecipientAddress,
		DerivationPrefix: c.DerivationPrefix,
		Description:      c.Description,
	}
	if c.Fee != nil {
		body.FeeSatoshisRequired = c.Fee.Satoshis
		body.FeeKeyID = c.Fee.KeyID
		body.FeeDerivationSuffix = c.Fee.DerivationSuffix
		switch c.Fee.Policy {
		case FeePolicyAddress:
			body.FeeAddress = c.Fee.Address
		case FeePolicyStructural:
			body.FeeIdentityKey = c.Fee.IdentityKey
		}
	}
	return body
}

// ParseChallenge reads a challenge back from 402 response headers.
func ParseChallenge(h http.Header) (*Challenge, error) {
	prefix := h.Get(HeaderDerivationPrefix)
	if prefix == "" {
		return nil, errors.New("challenge has no derivation prefix")
	}
	required, err := strconv.ParseUint(h.Get(HeaderSatoshisRequired), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", HeaderSatoshisRequired, err)
	}

	c := &Challenge{
		RequiredSatoshis: required,
		DerivationPrefix: prefix,
		RecipientAddress: h.Get(HeaderAddress),
		Version:          h.Get(HeaderVersion),
	}

	if raw := h.Get(HeaderFeeSatoshis); raw != "" {
		sats, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", HeaderFeeSatoshis, err)
		}
		fee := &ProtocolFee{
			Satoshis:         sats,
			KeyID:            h.Get(HeaderFeeKeyID),
			DerivationSuffix: h.Get(HeaderFeeDerivationSufx),
			Policy:           FeePolicyStructural,
			IdentityKey:      h.Get(HeaderFeeIdentityKey),
		}
		if addr := h.Get(HeaderFeeAddress); addr != "" {
			fee.Policy = FeePolicyAddress
			fee.Address = addr
		}
		c.Fee = fee
	}
	return c, nil
}

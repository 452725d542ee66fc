package paygate

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

type contextKey struct{}

// FromContext returns the verification attached to an admitted request.
func FromContext(ctx context.Context) (*Verification, bool) {
	v, ok := ctx.Value(contextKey{}).(*Verification)
	return v, ok
}

// WithVerification returns a copy of ctx carrying v.
func WithVerification(ctx context.Context, v *Verification) context.Context {
	return context.WithValue(ctx, contextKey{}, v)
}

// ErrorBody is the JSON body of a rejection.
type ErrorBody struct {
	Status  string                 `json:"status,omitempty"`
	Code    ErrorCode              `json:"code"`
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Middleware gates next behind payment.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		out := g.Evaluate(r)
		switch out.State {
		case StateChallenged:
			WriteChallenge(w, out.Challenge)
		case StateRejected:
			WriteRejection(w, out.Err)
		default:
			SetPaymentHeaders(w.Header(), out.Verification)
			next.ServeHTTP(w, r.WithContext(WithVerification(r.Context(), out.Verification)))
		}
	})
}

// SetPaymentHeaders adds the success headers for an accepted payment. Free
// requests get none.
func SetPaymentHeaders(h http.Header, v *Verification) {
	if v == nil || v.TxID == "" {
		return
	}
	h.Set(HeaderSatoshisPaid, strconv.FormatUint(v.SatoshisPaid, 10))
	h.Set(HeaderTxID, v.TxID)
}

// WriteChallenge sends a 402 Payment Required response for c.
func WriteChallenge(w http.ResponseWriter, c *Challenge) {
	c.SetHeaders(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(c.Body())
}

// WriteRejection sends the JSON error response for pe.
func WriteRejection(w http.ResponseWriter, pe *PaymentError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pe.Status)
	_ = json.NewEncoder(w).Encode(RejectionBody(pe))
}

// RejectionBody renders pe for the client. Internal failures carry no
// details.
func RejectionBody(pe *PaymentError) ErrorBody {
	body := ErrorBody{Code: pe.Code, Error: pe.Message}
	if pe.Status == http.StatusPaymentRequired {
		body.Status = "error"
	}
	if pe.Status < http.StatusInternalServerError {
		body.Details = pe.Details
	}
	return body
}

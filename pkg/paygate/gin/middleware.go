// Package gin provides Gin-compatible payment gating. It is a thin adapter
// over paygate.Gate; all payment logic stays in the paygate package.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/siddimore/bsv-paygate/pkg/paygate"
)

// PaymentContextKey is the gin context key holding the *paygate.Verification
// of an admitted request.
const PaymentContextKey = "paygate_payment"

// NewMiddleware gates the handler chain behind g.
//
// The middleware:
//   - passes exempt paths straight through
//   - answers unpaid requests with a 402 challenge and aborts
//   - aborts rejected requests with the JSON error body
//   - on acceptance sets the payment headers, stores the verification under
//     PaymentContextKey and on the request context, and calls c.Next()
func NewMiddleware(g *paygate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.Exempt(c.Request.URL.Path) {
			c.Next()
			return
		}

		out := g.Evaluate(c.Request)
		switch out.State {
		case paygate.StateChallenged:
			out.Challenge.SetHeaders(c.Writer.Header())
			c.AbortWithStatusJSON(http.StatusPaymentRequired, out.Challenge.Body())
		case paygate.StateRejected:
			c.AbortWithStatusJSON(out.Err.Status, paygate.RejectionBody(out.Err))
		default:
			paygate.SetPaymentHeaders(c.Writer.Header(), out.Verification)
			c.Set(PaymentContextKey, out.Verification)
			c.Request = c.Request.WithContext(paygate.WithVerification(c.Request.Context(), out.Verification))
			c.Next()
		}
	}
}

// Payment returns the verification stored by NewMiddleware.
func Payment(c *gin.Context) (*paygate.Verification, bool) {
	v, ok := c.Get(PaymentContextKey)
	if !ok {
		return nil, false
	}
	ver, ok := v.(*paygate.Verification)
	return ver, ok
}

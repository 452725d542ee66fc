package gin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siddimore/bsv-paygate/internal/testutil"
	"github.com/siddimore/bsv-paygate/pkg/paygate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRouter(t *testing.T) (*gin.Engine, []byte) {
	t.Helper()
	addr, script := testutil.Address("merchant")
	g, err := paygate.New(paygate.Config{
		RecipientAddress: addr,
		Pricing:          paygate.FixedPrice(100),
		ExemptPaths:      []string{"/health"},
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	r := gin.New()
	r.Use(NewMiddleware(g))
	r.GET("/test", func(c *gin.Context) {
		v, ok := Payment(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no payment"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"txid": v.TxID, "satoshis": v.SatoshisPaid})
	})
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r, script
}

func paymentHeader(t *testing.T, prefix, tx string) string {
	t.Helper()
	h, err := (&paygate.Proof{DerivationPrefix: prefix, Transaction: tx}).Encode()
	require.NoError(t, err)
	return h
}

func TestGinMiddleware_NoPaymentReturns402(t *testing.T) {
	r, _ := testRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "100", rec.Header().Get(paygate.HeaderSatoshisRequired))
	assert.NotEmpty(t, rec.Header().Get(paygate.HeaderDerivationPrefix))

	var body paygate.ChallengeBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, paygate.ErrCodePaymentRequired, body.Code)
}

func TestGinMiddleware_ValidPayment(t *testing.T) {
	r, script := testRouter(t)
	tx := testutil.NewTx("funding", testutil.Pay(100, script))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(paygate.HeaderPayment, paymentHeader(t, "gin-1", testutil.Hex(tx)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, tx.TxHash().String(), rec.Header().Get(paygate.HeaderTxID))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, tx.TxHash().String(), body["txid"])
	assert.Equal(t, 100.0, body["satoshis"])
}

func TestGinMiddleware_ReplayAborts(t *testing.T) {
	r, script := testRouter(t)
	header := paymentHeader(t, "gin-2", testutil.Hex(testutil.NewTx("funding", testutil.Pay(100, script))))

	for i, want := range []int{http.StatusOK, http.StatusBadRequest} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(paygate.HeaderPayment, header)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, "attempt %d", i)
		if want == http.StatusBadRequest {
			var body paygate.ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, paygate.ErrCodeReplayDetected, body.Code)
		}
	}
}

func TestGinMiddleware_InsufficientPayment(t *testing.T) {
	r, script := testRouter(t)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(paygate.HeaderPayment, paymentHeader(t, "gin-3", testutil.Hex(testutil.NewTx("f", testutil.Pay(50, script)))))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body paygate.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, paygate.ErrCodeInsufficientPayment, body.Code)
}

func TestGinMiddleware_ExemptPath(t *testing.T) {
	r, _ := testRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

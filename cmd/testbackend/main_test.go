package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siddimore/bsv-paygate/pkg/paygate"
)

func TestBackend_DataEchoesPayment(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/data", nil)
	req.Header.Set(paygate.HeaderTxID, "abcd")
	req.Header.Set(paygate.HeaderSatoshisPaid, "100")
	w := httptest.NewRecorder()
	newMux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "abcd", body["txid"])
	assert.Equal(t, "100", body["satoshis_paid"])
}

func TestBackend_UnknownPath(t *testing.T) {
	w := httptest.NewRecorder()
	newMux().ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

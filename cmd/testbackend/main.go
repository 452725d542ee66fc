// Simple test backend server to exercise the payment gateway
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/siddimore/bsv-paygate/pkg/paygate"
)

func main() {
	listen := flag.String("listen", ":3000", "listen address")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	log.Info("Test backend starting", "listenAddress", *listen)
	if err := http.ListenAndServe(*listen, newMux()); err != nil {
		log.Error("Test backend failed", "err", err)
		os.Exit(1)
	}
}

func newMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{
			"status": "healthy",
			"server": "test-backend",
		})
	})

	mux.HandleFunc("/api/public", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"message":   "This is a public endpoint - no payment required!",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// the gateway forwards the accepted payment in the success headers
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"message":       "You accessed protected data!",
			"txid":          r.Header.Get(paygate.HeaderTxID),
			"satoshis_paid": r.Header.Get(paygate.HeaderSatoshisPaid),
			"timestamp":     time.Now().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/api/premium", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"message": "Premium content unlocked!",
			"data": map[string]interface{}{
				"secret":    "The answer is 42",
				"premium":   true,
				"timestamp": time.Now().Format(time.RFC3339),
			},
		})
	})

	mux.HandleFunc("/api/echo", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"method":  r.Method,
			"path":    r.URL.Path,
			"query":   r.URL.Query(),
			"headers": relevantHeaders(r),
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]interface{}{
			"service": "Test Backend Server",
			"endpoints": []string{
				"GET /health      - Health check",
				"GET /api/public  - Public (free) endpoint",
				"GET /api/data    - Protected endpoint",
				"GET /api/premium - Premium content",
				"GET /api/echo    - Echo request details",
			},
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// relevantHeaders extracts headers useful for debugging
func relevantHeaders(r *http.Request) map[string]string {
	relevant := map[string]string{}
	keys := []string{
		paygate.HeaderTxID,
		paygate.HeaderSatoshisPaid,
		paygate.HeaderIdentityKey,
		"X-Forwarded-Host",
		"X-Forwarded-For",
		"X-Real-IP",
	}
	for _, key := range keys {
		if val := r.Header.Get(key); val != "" {
			relevant[key] = val
		}
	}
	return relevant
}

// Example server demonstrating the BSV payment gate on a Gin router
package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/siddimore/bsv-paygate/pkg/paygate"
	paygin "github.com/siddimore/bsv-paygate/pkg/paygate/gin"
)

// demoAddress is a well-known mainnet address used only for the demo.
const demoAddress = "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	recipient := os.Getenv("PAYGATE_RECIPIENT_ADDRESS")
	if recipient == "" {
		recipient = demoAddress
	}

	gate, err := paygate.New(paygate.Config{
		RecipientAddress: recipient,
		Pricing: paygate.NewRoutePricing(map[string]uint64{
			"/api/protected": 100,
			"/api/premium":   1000,
		}, 0),
		ExemptPaths: []string{"/api/public", "/health"},
		Receipts:    paygate.NewInMemoryReceiptStore(0),
		Logger:      log,
	})
	if err != nil {
		log.Error("Failed to build payment gate", "err", err)
		os.Exit(1)
	}

	r := newRouter(gate)

	log.Info("Example server starting",
		"listenAddress", ":8080",
		"recipient", recipient,
	)
	log.Info("Try: curl -i http://localhost:8080/api/protected")
	if err := r.Run(":8080"); err != nil {
		log.Error("Example server failed", "err", err)
		os.Exit(1)
	}
}

func newRouter(gate *paygate.Gate) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/api/public", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "This is a public endpoint"})
	})

	paid := r.Group("/api", paygin.NewMiddleware(gate))
	paid.GET("/protected", func(c *gin.Context) {
		v, _ := paygin.Payment(c)
		c.JSON(http.StatusOK, gin.H{
			"message": "Access granted to protected resource",
			"txid":    v.TxID,
		})
	})
	paid.GET("/premium", func(c *gin.Context) {
		v, _ := paygin.Payment(c)
		c.JSON(http.StatusOK, gin.H{
			"message":  "Premium content accessed",
			"satoshis": v.SatoshisPaid,
		})
	})
	return r
}

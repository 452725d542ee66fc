// Package paygate provides HTTP 402 Payment Required middleware settled in
// BSV transactions.
//
// An unpaid request to a priced path gets a 402 challenge carrying the
// required satoshis, the recipient address and a fresh single-use derivation
// prefix. The client pays and retries with a proof in the x-bsv-payment
// header. The gate decodes the transaction (hex, base64 raw, or base64
// BEEF/atomic BEEF), checks the prefix has not been used, verifies the amount
// either by matching outputs to the recipient script or by delegating to a
// wallet, optionally checks a protocol fee output, and records the prefix.
//
// Basic usage:
//
//	gate, err := paygate.New(paygate.Config{
//	    RecipientAddress: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT",
//	    Pricing:          paygate.FixedPrice(100),
//	    ExemptPaths:      []string{"/public"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	http.ListenAndServe(":8080", gate.Middleware(mux))
//
// Handlers read the accepted payment with FromContext.
package paygate

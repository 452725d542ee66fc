// Internal utilities for the payment gate
package internal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// PrefixEntropy is the number of random bytes behind each derivation prefix.
const PrefixEntropy = 16

// RandomBase64 returns n bytes from crypto/rand, standard base64 encoded.
func RandomBase64(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

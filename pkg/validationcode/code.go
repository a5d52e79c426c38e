// Package validationcode issues and checks the 6-digit handover codes a client
// gives the deliverer to confirm a delivery.
package validationcode

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
)

const Length = 6

var upper = big.NewInt(1_000_000)

// Generate returns a uniformly random, zero-padded 6-digit code.
func Generate() (string, error) {
	return generate(rand.Reader)
}

func generate(r io.Reader) (string, error) {
	n, err := rand.Int(r, upper)
	if err != nil {
		return "", fmt.Errorf("validation code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Verify compares candidate against expected in constant time.
func Verify(expected, candidate string) bool {
	if len(expected) != Length {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1
}

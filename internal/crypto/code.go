package crypto

import (
	"crypto/rand"
	"math/big"
)

// NewNumericCode returns a random code of n decimal digits, left-padded
// with zeroes.
func NewNumericCode(n int) (string, error) {
	digits := make([]byte, n)
	max := big.NewInt(10)
	for i := range digits {
		d, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + d.Int64())
	}
	return string(digits), nil
}

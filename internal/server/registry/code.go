package registry

import (
	"crypto/rand"
	"fmt"
)

// CodeAlphabet is the 32-symbol set one-time codes are drawn from. I, O, 0,
// and 1 are absent so codes survive being read aloud or copied by hand.
// Deployments must share this exact alphabet for codes to interoperate.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of symbols in a one-time code.
const CodeLength = 6

// MintCode returns a fresh one-time access code. The alphabet has 32
// symbols, so reducing a random byte modulo its length is exact: every
// symbol is equally likely.
func MintCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("minting code: %w", err)
	}
	out := make([]byte, CodeLength)
	for i, b := range buf {
		out[i] = CodeAlphabet[int(b)%len(CodeAlphabet)]
	}
	return string(out), nil
}

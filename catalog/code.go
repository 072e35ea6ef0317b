package catalog

import (
	"math/rand/v2"
)

const (
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength   = 6
)

// GenerateCode draws length uniform characters from CodeAlphabet.
// Not meant to be unguessable, only short and evenly spread.
func GenerateCode(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = CodeAlphabet[rand.IntN(len(CodeAlphabet))]
	}
	return string(b)
}

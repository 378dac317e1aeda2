package ingest

import (
	"crypto/sha256"
	"math/big"
)

const idTextRunes = 512

var idModulus = big.NewInt(1_000_000_000_000)

// RecordID derives the stable point id of an email from its sender, date and the
// first 512 characters of its text. Re-ingesting the same email yields the same id.
func RecordID(sender, date, text string) uint64 {
	key := sender + "|" + date + "|" + prefixRunes(text, idTextRunes)
	sum := sha256.Sum256([]byte(key))
	n := new(big.Int).SetBytes(sum[:])
	return n.Mod(n, idModulus).Uint64()
}

func prefixRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

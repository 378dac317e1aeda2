package ingest

import (
	"crypto/sha256"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordID_MatchesDigest(t *testing.T) {
	sum := sha256.Sum256([]byte("ana@x.com|2023-01-05|No tengo internet"))
	want := new(big.Int).Mod(new(big.Int).SetBytes(sum[:]), big.NewInt(1e12)).Uint64()

	assert.Equal(t, want, RecordID("ana@x.com", "2023-01-05", "No tengo internet"))
}

func TestRecordID_Pure(t *testing.T) {
	a := RecordID("ana@x.com", "2023-01-05", "Hola")
	b := RecordID("ana@x.com", "2023-01-05", "Hola")
	assert.Equal(t, a, b)
	assert.Less(t, a, uint64(1e12))
}

func TestRecordID_Sensitivity(t *testing.T) {
	base := RecordID("ana@x.com", "2023-01-05", "Hola")
	assert.NotEqual(t, base, RecordID("luis@x.com", "2023-01-05", "Hola"))
	assert.NotEqual(t, base, RecordID("ana@x.com", "2023-01-06", "Hola"))
	assert.NotEqual(t, base, RecordID("ana@x.com", "2023-01-05", "Adiós"))
}

func TestRecordID_OnlyPrefixCounts(t *testing.T) {
	prefix := strings.Repeat("á", 512)
	assert.Equal(t,
		RecordID("s", "d", prefix+" primera cola"),
		RecordID("s", "d", prefix+" segunda cola"),
	)
	assert.NotEqual(t,
		RecordID("s", "d", strings.Repeat("á", 511)+"x"),
		RecordID("s", "d", strings.Repeat("á", 511)+"y"),
	)
}

package common

import (
	"math/rand"
	"strings"
	"time"
)

const referenceChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var referencePrefixes = map[string]string{
	"deposit":    "DEP",
	"withdrawal": "WDR",
	"plan":       "PLN",
	"earnings":   "ERN",
}

// GenerateReference returns a short human readable reference such as
// DEP-7K2QZ9A. Unknown kinds use the TRX prefix.
func GenerateReference(kind string) string {
	prefix, ok := referencePrefixes[strings.ToLower(kind)]
	if !ok {
		prefix = "TRX"
	}
	return prefix + "-" + GenerateTrxNo()
}

func GenerateTrxNo() string {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	result := make([]byte, 7)
	for i := range result {
		result[i] = referenceChars[r.Intn(len(referenceChars))]
	}
	return string(result)
}

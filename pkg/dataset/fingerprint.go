package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Stages returns the chain from ds down to its source, outermost first.
func Stages(ds Dataset) []Dataset {
	var chain []Dataset
	for cur := ds; cur != nil; cur = cur.Input() {
		chain = append(chain, cur)
	}

	return chain
}

// Describe renders the whole chain, outermost first, e.g. "repeat(14) <- map(...) <- range(0,10,1)".
func Describe(ds Dataset) string {
	chain := Stages(ds)
	parts := make([]string, len(chain))

	for i, stage := range chain {
		parts[i] = stage.Describe()
	}

	return strings.Join(parts, " <- ")
}

// Fingerprint is a short hash of the chain structure. Two pipelines with the same
// fingerprint accept each other's checkpoints.
func Fingerprint(ds Dataset) string {
	h := sha256.Sum256([]byte(Describe(ds)))

	return hex.EncodeToString(h[:8])
}

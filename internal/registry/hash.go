package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FieldIdentity is the stable identity of a form field: what it asks for,
// what input it accepts, and where on the form it sits. Two structurally
// identical fields on different forms carry the same identity, which is what
// makes the cache reusable across users.
type FieldIdentity struct {
	Label   string `json:"label"`
	Type    string `json:"type"`
	Context string `json:"context"`
}

// Hash digests the normalized identity into a stable hex string. Label,
// type and context are case-folded and whitespace-collapsed first, so
// identities that differ only in casing or stray whitespace hash identically.
func Hash(id FieldIdentity) string {
	h := sha256.New()
	h.Write([]byte(normalize(id.Label)))
	h.Write([]byte{0x1f})
	h.Write([]byte(normalize(id.Type)))
	h.Write([]byte{0x1f})
	h.Write([]byte(normalize(id.Context)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

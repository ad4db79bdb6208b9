package keycodec

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// MaterialSize is the number of random bytes backing a key (256 bits).
const MaterialSize = 32

// Material is the raw random secret behind a key. The shareable public
// identifier is derived from it with FormatPublicID.
type Material [MaterialSize]byte

// PublicIDPrefix is the fixed literal leading every public key identifier.
const PublicIDPrefix = "TLPTH"

const (
	groupCount = 5
	groupLen   = 4
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// PublicIDLength is the total length of a canonical identifier:
// prefix plus five dash-delimited groups of four characters.
const PublicIDLength = len(PublicIDPrefix) + groupCount*(groupLen+1)

var publicIDPattern = regexp.MustCompile(`^TLPTH(-[A-Z0-9]{4}){5}$`)

// GenerateMaterial creates fresh key material from a cryptographically
// secure random source. Predictable generators are never acceptable here;
// the identifier derived from this material doubles as the shared secret.
func GenerateMaterial() (Material, error) {
	var m Material
	if _, err := rand.Read(m[:]); err != nil {
		return Material{}, fmt.Errorf("failed to read random material: %w", err)
	}
	return m, nil
}

// FormatPublicID renders the canonical, user-shareable identifier for the
// given material: TLPTH-XXXX-XXXX-XXXX-XXXX-XXXX with each X drawn from
// [A-Z0-9]. Pure and deterministic given the material.
func FormatPublicID(m Material) string {
	var b strings.Builder
	b.Grow(PublicIDLength)
	b.WriteString(PublicIDPrefix)

	for g := 0; g < groupCount; g++ {
		b.WriteByte('-')
		for i := 0; i < groupLen; i++ {
			b.WriteByte(alphabet[int(m[g*groupLen+i])%len(alphabet)])
		}
	}
	return b.String()
}

// ValidateFormat reports whether s matches the canonical identifier grammar
// exactly. Used as a fast pre-check so malformed input is rejected before
// any storage lookup.
func ValidateFormat(s string) bool {
	if len(s) != PublicIDLength {
		return false
	}
	return publicIDPattern.MatchString(s)
}

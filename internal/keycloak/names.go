package keycloak

import (
	"math/rand/v2"
	"strings"
)

// NameCharacters is the default alphabet of RandomName.
const NameCharacters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomName returns prefix followed by length characters drawn from
// characters (NameCharacters when empty).
//
// The generator is not cryptographically secure. Names and passwords made
// here are meant for throwaway test fixtures.
func RandomName(prefix string, length int, characters string) string {
	if characters == "" {
		characters = NameCharacters
	}
	alphabet := []rune(characters)

	var b strings.Builder
	b.WriteString(prefix)
	for i := 0; i < length; i++ {
		b.WriteRune(alphabet[rand.IntN(len(alphabet))])
	}
	return b.String()
}

// Package cryptox contains the key-derivation and hashing helpers shared by
// the client and the server.
//
// The password never leaves the client: it is stretched with Argon2id into a
// master key, and only a SHA-256 verifier of that key is sent to the server.
// Pairing codes are stored server-side as keyed BLAKE2b digests.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
)

// DeriveMasterKey stretches a password with Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// VerifiersEqual compares two verifiers in constant time.
func VerifiersEqual(a, b []byte) bool {
	return len(a) > 0 && subtle.ConstantTimeCompare(a, b) == 1
}

// NormalizePairingCode upper-cases a code and strips spaces and dashes so
// that "abc-234" and "ABC234" redeem the same code.
func NormalizePairingCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		if r == ' ' || r == '-' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HashPairingCode returns the hex BLAKE2b-256 digest of the normalized code,
// keyed with secret. An empty secret produces an unkeyed digest.
func HashPairingCode(code string, secret []byte) (string, error) {
	if len(secret) > blake2b.Size {
		secret = secret[:blake2b.Size]
	}
	h, err := blake2b.New256(secret)
	if err != nil {
		return "", err
	}
	h.Write([]byte(NormalizePairingCode(code)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

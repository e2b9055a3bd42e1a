package sanitize

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Verifier derives a protocol-specific credential verifier from a plaintext
// secret and a principal name. Derivation is a pure function of the pair,
// so re-running a reset with the same secret reproduces identical output.
type Verifier interface {
	Scheme() string
	Derive(secret, principal string) string
}

// NewVerifier returns the verifier for a configured hash scheme
func NewVerifier(scheme string) (Verifier, error) {
	switch scheme {
	case "md5":
		return MD5Verifier{}, nil
	case "scram-sha-256":
		return SCRAMVerifier{}, nil
	default:
		return nil, fmt.Errorf("unsupported hash scheme %q", scheme)
	}
}

// MD5Verifier produces PostgreSQL's legacy md5 verifier:
// "md5" + hex(md5(secret || principal)).
type MD5Verifier struct{}

// Scheme returns the scheme identifier
func (MD5Verifier) Scheme() string { return "md5" }

// Derive computes the verifier string
func (MD5Verifier) Derive(secret, principal string) string {
	sum := md5.Sum([]byte(secret + principal))
	return "md5" + hex.EncodeToString(sum[:])
}

const scramIterations = 4096

// SCRAMVerifier produces a SCRAM-SHA-256 verifier in PostgreSQL's
// SCRAM-SHA-256$<iterations>:<salt>$<storedkey>:<serverkey> form. The salt
// is derived from the secret and principal instead of drawn at random so
// that the reset stays idempotent.
type SCRAMVerifier struct{}

// Scheme returns the scheme identifier
func (SCRAMVerifier) Scheme() string { return "scram-sha-256" }

// Derive computes the verifier string
func (SCRAMVerifier) Derive(secret, principal string) string {
	saltSeed := sha256.Sum256([]byte("pgconvert-salt:" + secret + ":" + principal))
	salt := saltSeed[:16]

	salted := pbkdf2.Key([]byte(secret), salt, scramIterations, sha256.Size, sha256.New)

	clientMAC := hmac.New(sha256.New, salted)
	clientMAC.Write([]byte("Client Key"))
	storedKey := sha256.Sum256(clientMAC.Sum(nil))

	serverMAC := hmac.New(sha256.New, salted)
	serverMAC.Write([]byte("Server Key"))
	serverKey := serverMAC.Sum(nil)

	return fmt.Sprintf("SCRAM-SHA-256$%d:%s$%s:%s",
		scramIterations,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(storedKey[:]),
		base64.StdEncoding.EncodeToString(serverKey))
}

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// ErrMalformedHash is returned when a stored password hash cannot be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

// argonCost is the Argon2id cost for new hashes (OWASP minimum for 64 MiB).
var argonCost = argonParams{time: 3, memory: 64 * 1024, threads: 1}

const (
	argonKeyLen  = 32
	argonSaltLen = 16
	argonID      = "argon2id"
)

var b64 = base64.RawStdEncoding

type argonParams struct {
	time    uint32
	memory  uint32 // KiB
	threads uint8
}

// phcHash is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type phcHash struct {
	version int
	params  argonParams
	salt    []byte
	key     []byte
}

func (h phcHash) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s", argonID, h.version,
		h.params.memory, h.params.time, h.params.threads,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

func parsePHC(s string) (phcHash, error) {
	var h phcHash

	// A leading "$" yields an empty first field.
	fields := strings.Split(s, "$")
	if len(fields) != 6 || fields[0] != "" {
		return h, fmt.Errorf("%w: expected 5 PHC fields", ErrMalformedHash)
	}
	if fields[1] != argonID {
		return h, fmt.Errorf("%w: unsupported algorithm %q", ErrMalformedHash, fields[1])
	}
	if _, err := fmt.Sscanf(fields[2], "v=%d", &h.version); err != nil {
		return h, fmt.Errorf("%w: version: %w", ErrMalformedHash, err)
	}
	p := &h.params
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return h, fmt.Errorf("%w: parameters: %w", ErrMalformedHash, err)
	}

	var err error
	if h.salt, err = b64.DecodeString(fields[4]); err != nil {
		return h, fmt.Errorf("%w: salt: %w", ErrMalformedHash, err)
	}
	if h.key, err = b64.DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return h, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return h, nil
}

func deriveKey(password string, salt []byte, p argonParams, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, keyLen)
}

// HashPassword returns an Argon2id hash of password in PHC string form.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return phcHash{
		version: argon2.Version,
		params:  argonCost,
		salt:    salt,
		key:     deriveKey(password, salt, argonCost, argonKeyLen),
	}.String(), nil
}

// VerifyPassword reports whether password matches encoded. Argon2id PHC
// strings are native; bcrypt hashes from earlier deployments are accepted
// too. The error is non-nil only for an unparseable hash.
func VerifyPassword(password, encoded string) (bool, error) {
	if isBcryptHash(encoded) {
		return verifyBcrypt(password, encoded)
	}

	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	candidate := deriveKey(password, h.salt, h.params, uint32(len(h.key))) //nolint:gosec // key length is small
	return subtle.ConstantTimeCompare(h.key, candidate) == 1, nil
}

func verifyBcrypt(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: bcrypt: %w", ErrMalformedHash, err)
	}
	return true, nil
}

// NeedsRehash reports whether a hash that just verified should be replaced:
// bcrypt hashes, and Argon2id hashes made with a different cost.
func NeedsRehash(encoded string) bool {
	if isBcryptHash(encoded) {
		return true
	}
	h, err := parsePHC(encoded)
	return err == nil && h.params != argonCost
}

func isBcryptHash(encoded string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(encoded, prefix) {
			return true
		}
	}
	return false
}

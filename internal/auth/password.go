// Password hashing for email accounts.
//
// WHY ARGON2ID?
// Argon2id is a memory-hard key derivation function. Every guess costs an
// attacker not just CPU time but tens of megabytes of RAM, which is what
// makes GPU and ASIC cracking rigs expensive.
//
// Each hash gets a fresh random salt, so two users with the same password
// still end up with different stored values.
//
// Hash format (PHC string, the same layout the reference argon2 CLI prints):
//
//	$argon2id$v=19$m=65536,t=1,p=4$<base64 salt>$<base64 key>
//	           ^     ^              ^
//	           |     |              salt, raw std base64 (no padding)
//	           |     memory KiB, iterations, parallelism
//	           argon2 version
//
// Parameters live inside the string, so they can be raised later without
// invalidating hashes that are already stored.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params are the Argon2id cost settings.
type Params struct {
	Memory  uint32 // KiB
	Time    uint32 // iterations
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultParams follow the argon2 RFC's second recommended option:
// 64 MiB, one pass, four lanes.
var DefaultParams = Params{
	Memory:  64 * 1024,
	Time:    1,
	Threads: 4,
	SaltLen: 16,
	KeyLen:  32,
}

var (
	// ErrPasswordMismatch is returned by Verify for a wrong password.
	ErrPasswordMismatch = errors.New("auth: invalid password")
	// ErrMalformedHash is returned by Verify when the stored value cannot be parsed.
	ErrMalformedHash = errors.New("auth: malformed password hash")
)

// PasswordService hashes and verifies passwords.
//
// It's a struct (not free functions) so tests can inject cheap parameters;
// 64 MiB per hash adds up fast in a test suite.
type PasswordService struct {
	params Params
}

// NewPasswordService creates a PasswordService with DefaultParams.
func NewPasswordService() *PasswordService {
	return &PasswordService{params: DefaultParams}
}

// NewPasswordServiceForTest uses 64 KiB of memory. Do NOT use in production.
func NewPasswordServiceForTest() *PasswordService {
	return &PasswordService{params: Params{Memory: 64, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}}
}

// Hash derives an encoded Argon2id hash from plaintext.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	salt := make([]byte, p.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, p.params.Time, p.params.Memory, p.params.Threads, p.params.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.params.Memory, p.params.Time, p.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify checks plaintext against an encoded hash.
//
// Returns nil on a match, ErrPasswordMismatch on a wrong password and
// ErrMalformedHash if the stored value is not an argon2id hash.
//
// TIMING SAFETY:
// subtle.ConstantTimeCompare takes the same time however many leading bytes
// match, so response times leak nothing about the stored key.
func (p *PasswordService) Verify(hash, plaintext string) error {
	params, salt, want, err := decodeHash(hash)
	if err != nil {
		return err
	}

	got := argon2.IDKey([]byte(plaintext), salt, params.Time, params.Memory, params.Threads, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, ErrMalformedHash
	}

	var params Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Time, &params.Threads); err != nil {
		return Params{}, nil, nil, ErrMalformedHash
	}
	if params.Memory == 0 || params.Time == 0 || params.Threads == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}

	return params, salt, key, nil
}

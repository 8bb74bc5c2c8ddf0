package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrPasswordMismatch is returned when the password does not match the hash
	ErrPasswordMismatch = errors.New("password does not match")

	// ErrInvalidHashFormat is returned when the hash format is invalid
	ErrInvalidHashFormat = errors.New("invalid hash format")

	// ErrEmptyPassword is returned when hashing an empty password
	ErrEmptyPassword = errors.New("password is empty")
)

// PasswordHasher hashes SCIM user passwords with Argon2id. No strength
// policy is applied: provisioning clients own the password rules.
type PasswordHasher struct {
	argon2Time        uint32
	argon2Memory      uint32
	argon2Parallelism uint8
	argon2KeyLength   uint32
}

// NewPasswordHasher creates a hasher with the default Argon2id parameters
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{
		argon2Time:        3,         // 3 iterations
		argon2Memory:      64 * 1024, // 64 MB
		argon2Parallelism: 4,         // 4 threads
		argon2KeyLength:   32,        // 32 bytes
	}
}

// WithArgon2Params sets custom Argon2id parameters
func (ph *PasswordHasher) WithArgon2Params(time, memory uint32, parallelism uint8, keyLength uint32) *PasswordHasher {
	ph.argon2Time = time
	ph.argon2Memory = memory
	ph.argon2Parallelism = parallelism
	ph.argon2KeyLength = keyLength
	return ph
}

// Hash generates an Argon2id hash of the password
func (ph *PasswordHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, ph.argon2Time, ph.argon2Memory, ph.argon2Parallelism, ph.argon2KeyLength)

	// Encode as: $argon2id$v=19$t=3,m=65536,p=4$salt$hash
	return fmt.Sprintf("$argon2id$v=%d$t=%d,m=%d,p=%d$%s$%s",
		argon2.Version,
		ph.argon2Time,
		ph.argon2Memory,
		ph.argon2Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify checks a password against an encoded Argon2id hash
func (ph *PasswordHasher) Verify(password, encodedHash string) (bool, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return false, ErrInvalidHashFormat
	}

	var time, memory uint32
	var parallelism uint8
	for _, p := range strings.Split(parts[3], ",") {
		key, raw, ok := strings.Cut(p, "=")
		if !ok {
			return false, ErrInvalidHashFormat
		}
		bits := 32
		if key == "p" {
			bits = 8
		}
		val, err := strconv.ParseUint(raw, 10, bits)
		if err != nil {
			return false, ErrInvalidHashFormat
		}
		switch key {
		case "t":
			time = uint32(val)
		case "m":
			memory = uint32(val)
		case "p":
			parallelism = uint8(val)
		default:
			return false, ErrInvalidHashFormat
		}
	}
	if time == 0 || parallelism == 0 {
		return false, ErrInvalidHashFormat
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, time, memory, parallelism, uint32(len(decodedHash)))
	if subtle.ConstantTimeCompare(hash, decodedHash) == 1 {
		return true, nil
	}
	return false, ErrPasswordMismatch
}

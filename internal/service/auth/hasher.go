package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
)

const MinPasswordLength = 8

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

// CheckPasswordPolicy rejects passwords that must never be hashed
func CheckPasswordPolicy(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", apperrors.ErrValidationFailed, MinPasswordLength)
	}
	return nil
}

var errUnknownHash = errors.New("unknown password hash format")

// Hash compared when user does not exist, so response time does not tell whether username is known
var dummyHash, _ = BcryptHasher{}.Hash("hospitaldesk-dummy-password")

// Bcrypt password hasher
// Will be used as default one if user not provide it's own
//
// Hashes of other algorithms are still accepted by Compare: accounts imported with argon2id hashes
// keep working until their password is changed
type BcryptHasher struct{}

func (h BcryptHasher) Hash(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.DefaultCost)
	return string(hash), err
}

func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	switch {
	case strings.HasPrefix(hashedPassword, "$2a$"),
		strings.HasPrefix(hashedPassword, "$2b$"),
		strings.HasPrefix(hashedPassword, "$2y$"):
		sum := sha256.Sum256([]byte(password))
		return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
	case strings.HasPrefix(hashedPassword, "$argon2id$"):
		return compareArgon2id(hashedPassword, password)
	default:
		return errUnknownHash
	}
}

// DummyCompare burns the same time as real comparison and always fails
func DummyCompare(h PasswordHasher, password string) error {
	_ = h.Compare(dummyHash, password)
	return bcrypt.ErrMismatchedHashAndPassword
}

// Compare with PHC encoded argon2id hash: $argon2id$v=19$m=65536,t=3,p=2$salt$hash
func compareArgon2id(encoded string, password string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return fmt.Errorf("%w: invalid PHC format", errUnknownHash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return fmt.Errorf("%w: unsupported argon2 version", errUnknownHash)
	}

	var (
		memory, iterations uint32
		parallelism        uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return fmt.Errorf("%w: invalid argon2 parameters", errUnknownHash)
	}
	if memory == 0 || iterations == 0 || parallelism == 0 {
		return fmt.Errorf("%w: invalid argon2 parameters", errUnknownHash)
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("%w: invalid salt encoding", errUnknownHash)
	}
	hash, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return fmt.Errorf("%w: invalid hash encoding", errUnknownHash)
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(hash)))
	if subtle.ConstantTimeCompare(computed, hash) != 1 {
		return bcrypt.ErrMismatchedHashAndPassword
	}

	return nil
}

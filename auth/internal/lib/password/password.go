package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrPasswordTooLong is returned by bcrypt hashers for inputs bcrypt
	// would otherwise reject or truncate.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"

	argon2idPrefix = "$argon2id$"
	bcryptMaxBytes = 72
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// Hasher hashes new passwords with the configured algorithm and verifies
// stored hashes of either supported algorithm.
type Hasher struct {
	algorithm  string
	bcryptCost int
	argon      Argon2Params
}

func NewHasher(algorithm string, bcryptCost int) (*Hasher, error) {
	switch algorithm {
	case "", AlgorithmBcrypt:
		algorithm = AlgorithmBcrypt
	case AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", algorithm)
	}

	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", bcryptCost)
	}

	return &Hasher{algorithm: algorithm, bcryptCost: bcryptCost, argon: DefaultArgon2Params}, nil
}

func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if h.algorithm == AlgorithmArgon2id {
		return h.hashArgon2id(plain)
	}

	if len(plain) > bcryptMaxBytes {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), h.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify returns (false, nil) on mismatch and an error only for unreadable hashes.
func (h *Hasher) Verify(ctx context.Context, plain, encoded string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if strings.HasPrefix(encoded, argon2idPrefix) {
		return verifyArgon2id(plain, encoded)
	}

	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

func (h *Hasher) hashArgon2id(plain string) (string, error) {
	salt := make([]byte, h.argon.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, h.argon.Iterations, h.argon.Memory, h.argon.Parallelism, h.argon.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.argon.Memory, h.argon.Iterations, h.argon.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(plain, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return false, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrMalformedHash
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrMalformedHash
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, ErrMalformedHash
	}

	got := argon2.IDKey([]byte(plain), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

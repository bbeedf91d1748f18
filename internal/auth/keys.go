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

// Argon2id parameters.
const (
	argonTime    = 3         // iterations
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 1         // parallelism
	argonKeyLen  = 32        // output hash length
	argonSaltLen = 16        // salt length

	phcPrefix = "$argon2id$"
)

// ErrInvalidHash is returned for a configured key that looks like a PHC
// hash but cannot be decoded.
var ErrInvalidHash = errors.New("invalid argon2id hash")

// HashKey hashes an API key using Argon2id and returns it in PHC string
// format.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key is required")
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix,
		argon2.Version,
		argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// IsHashed reports whether a configured key is an Argon2id hash.
func IsHashed(configured string) bool {
	return strings.HasPrefix(configured, phcPrefix)
}

// VerifyKey checks a presented key against one configured key, which may
// be plaintext or a PHC hash. Comparison is constant time in both cases.
func VerifyKey(key, configured string) (bool, error) {
	if key == "" || configured == "" {
		return false, nil
	}
	if !IsHashed(configured) {
		return subtle.ConstantTimeCompare([]byte(key), []byte(configured)) == 1, nil
	}

	salt, hash, params, err := decodePHC(configured)
	if err != nil {
		return false, err
	}

	candidate := argon2.IDKey([]byte(key), salt, params.time, params.memory, params.threads, uint32(len(hash))) //nolint:gosec // G115: hash length always fits uint32

	return subtle.ConstantTimeCompare(hash, candidate) == 1, nil
}

// Match returns the 1-based position of the configured key that accepts
// key. Every configured key is checked so timing does not reveal which one
// matched. Undecodable hashes are skipped and reported in err.
func Match(key string, configured []string) (position int, err error) {
	var errs []error
	for i, c := range configured {
		ok, verr := VerifyKey(key, c)
		if verr != nil {
			errs = append(errs, fmt.Errorf("api key %d: %w", i+1, verr))
			continue
		}
		if ok && position == 0 {
			position = i + 1
		}
	}
	return position, errors.Join(errs...)
}

type argonParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// decodePHC parses an Argon2id PHC string into its components.
func decodePHC(encoded string) (salt, hash []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 { //nolint:mnd // PHC format has exactly 6 $-delimited parts
		return nil, nil, params, fmt.Errorf("%w: wrong number of fields", ErrInvalidHash)
	}

	if parts[1] != "argon2id" {
		return nil, nil, params, fmt.Errorf("%w: unsupported algorithm %s", ErrInvalidHash, parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("%w: parsing version: %w", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return nil, nil, params, fmt.Errorf("%w: unsupported version %d", ErrInvalidHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return nil, nil, params, fmt.Errorf("%w: parsing parameters: %w", ErrInvalidHash, err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("%w: decoding salt: %w", ErrInvalidHash, err)
	}

	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, nil, params, fmt.Errorf("%w: decoding hash", ErrInvalidHash)
	}

	return salt, hash, params, nil
}

package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Env keys read by FromEnv.
const (
	EnvMinLen        = "MEDGATE_PASSWORD_MIN_LEN"
	EnvMaxLen        = "MEDGATE_PASSWORD_MAX_LEN"
	EnvRejectWeak    = "MEDGATE_PASSWORD_REJECT_VERY_WEAK"
	EnvLegacyWrites  = "MEDGATE_PASSWORD_LEGACY_DIGEST"
	EnvArgonMemory   = "MEDGATE_ARGON2_MEMORY_KIB"
	EnvArgonIter     = "MEDGATE_ARGON2_ITERATIONS"
	EnvArgonParallel = "MEDGATE_ARGON2_PARALLELISM"
	EnvArgonSaltLen  = "MEDGATE_ARGON2_SALT_LEN"
	EnvArgonKeyLen   = "MEDGATE_ARGON2_KEY_LEN"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords. Lengths count runes.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy

	// LegacyDigestWrites makes Hash emit unsalted SHA-256 hex digests so that
	// older readers of the same users table keep working. Off by default.
	LegacyDigestWrites bool
}

// DefaultConfig returns the registration policy (6..20 characters) and an
// interactive-login Argon2id cost.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 6,
			MaxLength: 20,
		},
	}
}

// FromEnv loads config from MEDGATE_PASSWORD_* and MEDGATE_ARGON2_* on top of DefaultConfig.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{EnvMinLen, 1, 1024, &cfg.Policy.MinLength},
		{EnvMaxLen, 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, f := range ints {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		n, err := atoiInRange(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = n
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{EnvRejectWeak, &cfg.Policy.RejectVeryWeak},
		{EnvLegacyWrites, &cfg.LegacyDigestWrites},
	}
	for _, f := range bools {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = b
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{EnvArgonMemory, 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{EnvArgonIter, 1, 20, &cfg.Params.Iterations},
		{EnvArgonSaltLen, 8, 64, &cfg.Params.SaltLength},
		{EnvArgonKeyLen, 16, 64, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		v, ok := os.LookupEnv(f.key)
		if !ok {
			continue
		}
		u, err := atou32(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = u
	}

	if v, ok := os.LookupEnv(EnvArgonParallel); ok {
		u, err := atou32(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvArgonParallel, err)
		}
		cfg.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func atoiInRange(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}

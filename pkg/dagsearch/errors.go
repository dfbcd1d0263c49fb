package dagsearch

import (
	"fmt"

	apperrors "github.com/dagsearch/dagsearch/pkg/errors"
)

// ErrArenaExhausted is returned when an arena's shared cursor would advance
// past its preallocated size. Per the error-handling design, this is a
// configuration-time sizing failure, not a condition the engine retries.
func errArenaExhausted(kind string, size int) error {
	return apperrors.Wrap(apperrors.CodeArenaExhausted,
		fmt.Sprintf("%s arena exhausted (capacity %d); increase sizing in EngineConfig", kind, size),
		nil)
}

// errEngineConfig wraps a configuration-time failure, mirroring the
// reference's ConfigurationError: re-initialization or bad batch sizing.
func errEngineConfig(msg string) error {
	return apperrors.New(apperrors.CodeEngineConfig, msg)
}

// errInvariantViolation reports a condition the algorithm design treats as
// undefined behavior in a release build: surfaced here as an error instead
// of silently producing wrong results, since logging it is the explicit
// §7 policy for debug builds.
func errInvariantViolation(msg string) error {
	return apperrors.New(apperrors.CodeInvariantViolation, msg)
}

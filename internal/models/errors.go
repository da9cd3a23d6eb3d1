package models

import "errors"

// Error kinds surfaced to callers.
var (
	// ErrInvalidArgument indicates rejected parameters; no work was done.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates no persisted index or metadata exists.
	ErrNotFound = errors.New("not found")

	// ErrProviderUnavailable indicates the embedding capability failed to initialize or respond.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrCorruptState indicates the vector index and metadata have diverged.
	ErrCorruptState = errors.New("corrupt state")

	// ErrGenerationUnavailable indicates the external generation call failed or timed out.
	ErrGenerationUnavailable = errors.New("generation unavailable")
)

// ErrorKind returns a machine-readable kind for err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrCorruptState):
		return "corrupt_state"
	case errors.Is(err, ErrGenerationUnavailable):
		return "generation_unavailable"
	default:
		return "internal"
	}
}

package failure

import (
	"errors"
	"fmt"
)

// Error kinds. Every fatal error of a run wraps
// exactly one of these.
var (
	// ErrConfig marks malformed or missing
	// configuration, flags, or environment.
	ErrConfig = errors.New("configuration error")

	// ErrGeneration marks a failed generator run.
	ErrGeneration = errors.New("generation error")

	// ErrVCS marks a failed git command.
	ErrVCS = errors.New("version control error")

	// ErrAuth marks a missing or rejected forge
	// credential.
	ErrAuth = errors.New("authentication error")

	// ErrAPI marks a failed forge API call.
	ErrAPI = errors.New("forge api error")
)

// Exit codes returned by the CLI.
const (
	ExitOK         = 0
	ExitUsage      = 1
	ExitConfig     = 2
	ExitGeneration = 3
	ExitVCS        = 4
	ExitAuth       = 5
	ExitAPI        = 6
)

// Wrap tags err with kind. It returns nil when err is
// nil and leaves err untouched when it already carries
// kind.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, kind) {
		return err
	}

	return fmt.Errorf("%w: %w", kind, err)
}

// ExitCode maps err to the process exit code of its
// kind. Untagged errors map to ExitUsage.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrConfig):
		return ExitConfig
	case errors.Is(err, ErrGeneration):
		return ExitGeneration
	case errors.Is(err, ErrVCS):
		return ExitVCS
	case errors.Is(err, ErrAuth):
		return ExitAuth
	case errors.Is(err, ErrAPI):
		return ExitAPI
	default:
		return ExitUsage
	}
}

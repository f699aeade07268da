// Package horosafe provides bounded I/O and identifier checks shared by the
// transport and tool layers.
package horosafe

import (
	"errors"
	"fmt"
	"io"
)

// MaxResponseBody is the default cap for listener response reads (10 MiB).
// Snapshot payloads from level.snapshot are the largest bodies we expect.
const MaxResponseBody int64 = 10 << 20

// ErrResponseTooLarge is returned by LimitedReadAll when the limit is exceeded.
var ErrResponseTooLarge = errors.New("horosafe: response too large")

// LimitedReadAll reads at most maxBytes from r. Returns an error wrapping
// ErrResponseTooLarge if the limit is exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, maxBytes)
	}
	return data, nil
}

// ValidateIdentifier rejects names unsuitable as checkpoint keys or actor
// labels passed through to the editor. Allows alphanumeric, underscore,
// hyphen, dot and space.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("horosafe: identifier too long (max 256)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' || r == ' '
}

package secret

import (
	"fmt"
	"log/slog"
)

// Redacted holds a credential. Every formatting path prints a placeholder;
// only Reveal returns the value.
type Redacted struct {
	value string
}

const placeholder = "[redacted]"

// NewRedacted wraps value.
func NewRedacted(value string) Redacted {
	return Redacted{value: value}
}

// Reveal returns the raw credential. Call it only where the value leaves
// the process (an Authorization header, an SDK credentials provider).
func (r Redacted) Reveal() string { return r.value }

// Empty reports whether no credential is held.
func (r Redacted) Empty() bool { return r.value == "" }

func (r Redacted) String() string { return placeholder }

func (r Redacted) GoString() string { return placeholder }

func (r Redacted) Format(f fmt.State, _ rune) { fmt.Fprint(f, placeholder) }

func (r Redacted) MarshalJSON() ([]byte, error) { return []byte(`"` + placeholder + `"`), nil }

func (r Redacted) MarshalText() ([]byte, error) { return []byte(placeholder), nil }

// LogValue keeps slog from reaching the field.
func (r Redacted) LogValue() slog.Value { return slog.StringValue(placeholder) }

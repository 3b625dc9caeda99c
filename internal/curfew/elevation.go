package curfew

// Elevation is a capability token proving the process runs with the
// privileges needed to modify machine-wide policy. It is obtained once at
// startup and handed to the components that mutate OS state, instead of
// each of them querying the process identity on its own.
type Elevation struct {
	granted bool
	reason  string
}

// AcquireElevation checks the process privileges. It returns ErrNotElevated
// when the process is not running as root / an elevated administrator.
func AcquireElevation() (Elevation, error) {
	ok, reason := processElevated()
	if !ok {
		return Elevation{reason: reason}, NewError(ErrNotElevated, "acquire elevation", nil)
	}
	return Elevation{granted: true, reason: reason}, nil
}

// AssumeElevation returns a granted token without checking. It exists for
// tests and for writers pointed at scratch locations.
func AssumeElevation(reason string) Elevation {
	return Elevation{granted: true, reason: reason}
}

// Granted reports whether the token authorizes privileged writes.
func (e Elevation) Granted() bool { return e.granted }

func (e Elevation) String() string {
	if e.granted {
		return "elevated (" + e.reason + ")"
	}
	return "not elevated (" + e.reason + ")"
}

// Require returns ErrNotElevated unless the token is granted.
func (e Elevation) Require(op string) error {
	if !e.granted {
		return NewError(ErrNotElevated, op, nil)
	}
	return nil
}

//go:build !windows

package writer

import "curfew/internal/curfew"

// NativeHive is only available on Windows.
func NativeHive() (RegistryHive, error) {
	return nil, curfew.NewError(curfew.ErrUnsupported, "open registry", nil)
}

//go:build windows

package writer

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows/registry"
)

const access = registry.ALL_ACCESS | registry.WOW64_64KEY

// NativeHive returns HKEY_LOCAL_MACHINE.
func NativeHive() (RegistryHive, error) {
	return machineHive{}, nil
}

type machineHive struct{}

func (machineHive) Open(path string) (RegistryKey, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, access)
	if errors.Is(err, registry.ErrNotExist) {
		return nil, fmt.Errorf("opening %s: %w", path, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return winKey{k}, nil
}

func (machineHive) Create(path string) (RegistryKey, error) {
	k, _, err := registry.CreateKey(registry.LOCAL_MACHINE, path, access)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return winKey{k}, nil
}

func (h machineHive) DeleteTree(path string) error {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, access)
	if errors.Is(err, registry.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	children, err := k.ReadSubKeyNames(-1)
	k.Close()
	if err != nil {
		return fmt.Errorf("listing %s: %w", path, err)
	}
	for _, child := range children {
		if err := h.DeleteTree(path + `\` + child); err != nil {
			return err
		}
	}
	if err := registry.DeleteKey(registry.LOCAL_MACHINE, path); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

type winKey struct {
	k registry.Key
}

func (w winKey) SetDWord(name string, value uint32) error { return w.k.SetDWordValue(name, value) }
func (w winKey) SetString(name, value string) error      { return w.k.SetStringValue(name, value) }
func (w winKey) SetStrings(name string, value []string) error {
	return w.k.SetStringsValue(name, value)
}

func (w winKey) Strings(name string) ([]string, error) {
	v, _, err := w.k.GetStringsValue(name)
	if errors.Is(err, registry.ErrNotExist) {
		return nil, nil
	}
	return v, err
}

func (w winKey) ValueNames() ([]string, error) { return w.k.ReadValueNames(-1) }

func (w winKey) DeleteValue(name string) error {
	if err := w.k.DeleteValue(name); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return err
	}
	return nil
}

func (w winKey) Close() error { return w.k.Close() }

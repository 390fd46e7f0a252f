//go:build windows

package hostprobe

import (
	"strings"

	"golang.org/x/sys/windows/registry"
)

// WindowsRegistry reads value names under a hive/subkey pair using
// golang.org/x/sys/windows/registry, the standard way to touch the
// Windows registry from Go.
type WindowsRegistry struct{}

// NewWindowsRegistry returns a ready-to-use RegistryReader.
func NewWindowsRegistry() *WindowsRegistry {
	return &WindowsRegistry{}
}

func (r *WindowsRegistry) ReadRegistryValues(hive, subkey string) (map[string]string, error) {
	root, err := parseHive(hive)
	if err != nil {
		return nil, err
	}

	key, err := registry.OpenKey(root, subkey, registry.READ)
	if err != nil {
		if err == registry.ErrNotExist {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer key.Close()

	names, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		val, _, err := key.GetStringValue(name)
		if err != nil {
			continue
		}
		out[name] = val
	}
	return out, nil
}

func parseHive(hive string) (registry.Key, error) {
	switch strings.ToUpper(hive) {
	case "HKCU", "HKEY_CURRENT_USER":
		return registry.CURRENT_USER, nil
	case "HKLM", "HKEY_LOCAL_MACHINE":
		return registry.LOCAL_MACHINE, nil
	case "HKU", "HKEY_USERS":
		return registry.USERS, nil
	case "HKCR", "HKEY_CLASSES_ROOT":
		return registry.CLASSES_ROOT, nil
	default:
		return 0, errUnknownHive(hive)
	}
}

type errUnknownHive string

func (e errUnknownHive) Error() string {
	return "hostprobe: unknown registry hive " + string(e)
}

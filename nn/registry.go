package nn

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrArchExists  = errors.New("nn: architecture already registered")
	ErrArchNil     = errors.New("nn: nil architecture builder")
	ErrUnknownArch = errors.New("nn: unknown architecture")
	ErrBadOptions  = errors.New("nn: bad architecture options")
)

// ArchBuilder expands an architecture into its layer specs.
type ArchBuilder func(opts ArchOptions) ([]LayerSpec, error)

var (
	mu       sync.RWMutex
	builders = map[string]ArchBuilder{}
)

func Register(name string, b ArchBuilder) error {
	if b == nil {
		return fmt.Errorf("%w: %q", ErrArchNil, name)
	}
	if !isValidName(name) {
		return fmt.Errorf("nn: invalid architecture name %q", name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[name]; exists {
		return fmt.Errorf("%w: %q", ErrArchExists, name)
	}
	builders[name] = b
	return nil
}

// Resolve finds a builder by exact name first, then case-insensitively, so
// "resnet18" and "ResNet18" select the same architecture. The returned name
// is the registered one.
func Resolve(name string) (ArchBuilder, string, error) {
	trimmed := strings.TrimSpace(name)
	mu.RLock()
	defer mu.RUnlock()
	if b, ok := builders[trimmed]; ok {
		return b, trimmed, nil
	}
	for registered, b := range builders {
		if strings.EqualFold(registered, trimmed) {
			return b, registered, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %q", ErrUnknownArch, name)
}

// List returns the registered architecture names, sorted.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

func mustRegister(name string, b ArchBuilder) {
	if err := Register(name, b); err != nil {
		panic(err)
	}
}

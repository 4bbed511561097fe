// Package clip provides the platform clipboard backends the sync engine
// consumes. The backend is chosen once at startup by probing the display
// server environment:
//
//	clip_system.go   X11 (and the native macOS/Windows clipboard) via golang.design/x/clipboard
//	clip_wayland.go  Wayland via atotto/clipboard driving wl-copy / wl-paste
//	clip_other.go    platforms without a system clipboard
package clip

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned by Open when the selected backend cannot be
// initialised.
var ErrUnavailable = errors.New("clipboard backend unavailable")

// Backend is the interface all clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard text. An empty clipboard yields "".
	Read() (string, error)

	// Write replaces the clipboard contents with text.
	Write(text string) error

	// Close releases any resources held by the backend.
	Close()
}

// Notifier is implemented by backends that can signal clipboard changes
// without being polled. The channel is closed when ctx is done.
type Notifier interface {
	Changes(ctx context.Context) <-chan struct{}
}

// Kind identifies a backend family.
type Kind string

const (
	KindAuto    Kind = "auto"
	KindX11     Kind = "x11"
	KindWayland Kind = "wayland"
)

// ParseKind converts a flag value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindAuto:
		return KindAuto, nil
	case KindX11, KindWayland:
		return k, nil
	default:
		return "", fmt.Errorf("unknown clipboard backend %q (want auto, x11 or wayland)", s)
	}
}

// SelectKind picks a backend from the environment: Wayland when
// WAYLAND_DISPLAY is non-empty, otherwise X11 (whether or not DISPLAY is set).
func SelectKind(getenv func(string) string) Kind {
	if getenv("WAYLAND_DISPLAY") != "" {
		return KindWayland
	}
	return KindX11
}

// Open initialises the backend for kind. KindAuto is resolved with getenv.
func Open(kind Kind, getenv func(string) string) (Backend, error) {
	if kind == KindAuto || kind == "" {
		kind = SelectKind(getenv)
	}
	switch kind {
	case KindWayland:
		return newWayland(getenv)
	case KindX11:
		return newSystem()
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrUnavailable, kind)
	}
}

package clip

import (
	"fmt"
	"os/exec"

	"github.com/atotto/clipboard"
)

// waylandBackend drives wl-clipboard through atotto/clipboard. wl-copy forks
// a process that owns the selection and serves every data request until
// another client takes ownership; wl-paste performs the offer/receive
// negotiation for reads.
type waylandBackend struct{}

func newWayland(getenv func(string) string) (Backend, error) {
	if getenv("WAYLAND_DISPLAY") == "" {
		return nil, fmt.Errorf("%w: WAYLAND_DISPLAY is not set", ErrUnavailable)
	}
	for _, tool := range []string{"wl-copy", "wl-paste"} {
		if _, err := exec.LookPath(tool); err != nil {
			return nil, fmt.Errorf("%w: %s not found (install wl-clipboard)", ErrUnavailable, tool)
		}
	}
	if clipboard.Unsupported {
		return nil, fmt.Errorf("%w: no clipboard utilities found", ErrUnavailable)
	}
	return waylandBackend{}, nil
}

func (waylandBackend) Name() string { return "Wayland data device (wl-clipboard)" }

func (waylandBackend) Read() (string, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("wl-paste: %w", err)
	}
	return text, nil
}

func (waylandBackend) Write(text string) error {
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("wl-copy: %w", err)
	}
	return nil
}

func (waylandBackend) Close() {}

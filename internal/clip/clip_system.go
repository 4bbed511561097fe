//go:build linux || darwin || windows

package clip

import (
	"context"
	"fmt"
	"runtime"

	"golang.design/x/clipboard"
)

type systemBackend struct{}

// newSystem returns the X11 backend on Linux and the native clipboard on
// macOS and Windows. clipboard.Init is called here rather than in init() so
// that sub-commands that never open a backend (server, copy, status) work on
// headless hosts.
func newSystem() (Backend, error) {
	if err := clipboard.Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return systemBackend{}, nil
}

func (systemBackend) Name() string {
	if runtime.GOOS == "linux" {
		return "X11 selection"
	}
	return runtime.GOOS + " clipboard"
}

func (systemBackend) Read() (string, error) {
	return string(clipboard.Read(clipboard.FmtText)), nil
}

func (systemBackend) Write(text string) error {
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// Changes implements Notifier on top of clipboard.Watch.
func (systemBackend) Changes(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	data := clipboard.Watch(ctx, clipboard.FmtText)
	go func() {
		defer close(out)
		for range data {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
	return out
}

func (systemBackend) Close() {}

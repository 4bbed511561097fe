//go:build !linux && !darwin && !windows

package clip

import "fmt"

func newSystem() (Backend, error) {
	return nil, fmt.Errorf("%w: no system clipboard on this platform", ErrUnavailable)
}

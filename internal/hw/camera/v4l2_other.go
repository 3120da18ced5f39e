//go:build !linux

package camera

import (
	"context"
	"fmt"
)

// V4L2Provider is only available on Linux.
type V4L2Provider struct {
	Device string
}

func (p V4L2Provider) Name() string { return p.Device }

func (p V4L2Provider) Open(_ context.Context, _ Constraints) (Stream, error) {
	return nil, fmt.Errorf("%w: video4linux is not supported on this platform", ErrNoDevice)
}

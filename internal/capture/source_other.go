//go:build !linux

package capture

import (
	"fmt"

	"deskcast/internal/types"
)

// NewSource is unsupported off Linux; the composition root reports the
// error and exits.
func NewSource(displayName string) (types.FrameSource, error) {
	return nil, fmt.Errorf("screen capture is only supported on linux")
}

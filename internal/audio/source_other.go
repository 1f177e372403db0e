//go:build !linux

package audio

import (
	"fmt"

	"deskcast/internal/types"
)

// NewSource is unsupported off Linux.
func NewSource() (types.AudioSource, error) {
	return nil, fmt.Errorf("desktop audio capture is only supported on linux")
}

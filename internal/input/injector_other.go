//go:build !linux

package input

import (
	"fmt"

	"deskcast/internal/types"
)

// NewInjector is unsupported off Linux.
func NewInjector(displayName string) (types.InputInjector, error) {
	return nil, fmt.Errorf("input injection is only supported on linux")
}
